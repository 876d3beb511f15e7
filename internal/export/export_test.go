package export

import (
	"encoding/csv"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/shopspring/decimal"

	"predictsim/internal/num"
	"predictsim/pkg/types"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestWriteResultsCSV(t *testing.T) {
	t.Parallel()
	price := d("0.55")
	qty := d("10")
	results := []types.ExecutionResult{
		{
			Engine: types.EngineCLOB,
			Intent: types.OrderIntent{
				ID: "i-1", TraderID: "alice", Outcome: types.YES,
				Side: types.BUY, Type: types.LIMIT, Price: &price, Qty: &qty, Timestamp: 1.5,
			},
			Status:       types.StatusFilled,
			AvgFillPrice: num.Ptr(d("0.50")),
			Slippage:     num.Ptr(d("0.01")),
		},
		{
			Engine: types.EngineLMSR,
			Intent: types.OrderIntent{
				ID: "i-2", TraderID: "bob", Outcome: types.NO,
				Side: types.BUY, Type: types.MARKET, Qty: &qty, Timestamp: 2,
			},
			Status: types.StatusRejected,
		},
	}

	path := filepath.Join(t.TempDir(), "results.csv")
	if err := WriteResultsCSV(path, results); err != nil {
		t.Fatalf("write: %v", err)
	}

	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer f.Close()

	rows, err := csv.NewReader(f).ReadAll()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if len(rows) != 3 {
		t.Fatalf("rows = %d, want header + 2", len(rows))
	}
	if rows[0][0] != "intentId" || rows[0][11] != "priceImpact" {
		t.Errorf("header = %v", rows[0])
	}
	if rows[1][6] != "0.55" || rows[1][9] != "0.5" {
		t.Errorf("decimal columns = %q, %q", rows[1][6], rows[1][9])
	}
	// Absent optionals render as empty strings.
	if rows[2][6] != "" || rows[2][9] != "" || rows[2][10] != "" {
		t.Errorf("rejected row optionals = %v", rows[2])
	}
}

func TestGoldenSnapshotFormat(t *testing.T) {
	t.Parallel()
	amm := &types.AMMSnapshot{
		QYes:           d("50"),
		QNo:            d("0"),
		TotalCollected: d("28.09298036201613714557652336"),
		PriceYes:       d("0.6224593312018545646389005657"),
		PriceNo:        d("0.3775406687981454353610994343"),
	}
	traders := []types.TraderState{
		{ID: "alice", Cash: d("9971.907019637983862854423477"), YesShares: d("50")},
	}

	got := GoldenSnapshot(amm, traders)
	want := strings.Join([]string{
		"qYes=50",
		"qNo=0",
		"totalCollected=28.09298036201613714557652336",
		"pYES=0.6224593312018545646389005657",
		"pNO=0.3775406687981454353610994343",
		"trader alice cash=9971.907019637983862854423477 yesShares=50 noShares=0",
		"",
	}, "\n")
	if got != want {
		t.Errorf("golden mismatch:\n got: %q\nwant: %q", got, want)
	}

	// Bit-exact across repeated renders.
	if got != GoldenSnapshot(amm, traders) {
		t.Error("golden render not stable")
	}
}

func TestWriteLogsJSONAtomic(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "logs.json")
	events := []types.LogEvent{
		{Type: types.EventOrderReceived, Engine: types.EngineCLOB, Timestamp: 1,
			Data: map[string]any{"intentId": "i-1"}},
	}
	if err := WriteLogsJSON(path, events); err != nil {
		t.Fatalf("write: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if !strings.Contains(string(data), `"ORDER_RECEIVED"`) {
		t.Errorf("dump missing event type:\n%s", data)
	}
	if _, err := os.Stat(path + ".tmp"); !os.IsNotExist(err) {
		t.Error("temp file left behind")
	}
}
