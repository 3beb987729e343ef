// Copyright 2025 AxonFlow
// SPDX-License-Identifier: BUSL-1.1
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package spine

import (
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/require"
)

var errBoom = errors.New("boom")

func TestLedgerWriteThenReadRoundTrips(t *testing.T) {
	ledger := newTestLedger(t)

	id, err := ledger.Write(LedgerEntry{
		EntryType: string(EntryAction),
		Action:    "navigate",
		Target:    "https://example.com",
		HeadID:    "head-1",
		Payload:   map[string]interface{}{"foo": "bar"},
	})
	require.NoError(t, err)
	require.NotEmpty(t, id)

	entry, err := ledger.Read(id)
	require.NoError(t, err)
	require.Equal(t, "navigate", entry.Action)
	require.Equal(t, ledger.SessionID(), entry.SessionID)
	require.True(t, ledger.Verify(*entry))
}

func TestLedgerWriteBatchIsAtomicAndReturnsPopulatedEntries(t *testing.T) {
	ledger := newTestLedger(t)

	out, err := ledger.WriteBatch([]LedgerEntry{
		{EntryType: string(EntryAction), Action: "navigate", Target: "https://example.com", HeadID: "head-1"},
		{EntryType: string(EntryDecision), Action: "navigate", Target: "https://example.com", Decision: "ALLOW", HeadID: "head-1"},
	})
	require.NoError(t, err)
	require.Len(t, out, 2)

	for _, e := range out {
		require.NotEmpty(t, e.ID)
		require.NotEmpty(t, e.Timestamp)
		require.Equal(t, ledger.SessionID(), e.SessionID)
		require.True(t, ledger.Verify(e))
	}

	entries, err := ledger.Query(QueryFilter{HeadID: "head-1"})
	require.NoError(t, err)
	require.Len(t, entries, 2)
}

func TestLedgerWriteBatchRollsBackOnMidBatchFailure(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	ledger := &Ledger{db: db, dbPath: ":mock:", sessionID: "sess-1", secret: sessionSecret("sess-1")}

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO ledger").WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("INSERT INTO ledger").WillReturnError(errBoom)
	mock.ExpectRollback()

	_, err = ledger.WriteBatch([]LedgerEntry{
		{EntryType: string(EntryAction), Action: "navigate", Target: "https://example.com"},
		{EntryType: string(EntryDecision), Action: "navigate", Target: "https://example.com", Decision: "ALLOW"},
	})
	require.Error(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}
