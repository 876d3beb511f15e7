// Package export writes the run artifacts: the JSON log dump, the CSV
// result export and the golden snapshot text.
//
// All files are written atomically (write to .tmp, then rename) so a
// crash mid-export never leaves a partial artifact. Decimals render as
// their stable string form; absent optionals render as empty strings in
// CSV and are omitted from JSON.
package export

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	"predictsim/internal/num"
	"predictsim/pkg/types"
)

// WriteLogsJSON dumps the event stream as an indented JSON array.
func WriteLogsJSON(path string, events []types.LogEvent) error {
	if events == nil {
		events = []types.LogEvent{}
	}
	data, err := json.MarshalIndent(events, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal logs: %w", err)
	}
	return writeAtomic(path, append(data, '\n'))
}

// csvHeader is the fixed column order of the result export.
var csvHeader = []string{
	"intentId", "timestamp", "traderId", "outcome", "side", "orderType",
	"price", "qty", "status", "avgFillPrice", "slippage", "priceImpact",
}

// WriteResultsCSV exports one row per execution result.
func WriteResultsCSV(path string, results []types.ExecutionResult) error {
	var sb strings.Builder
	w := csv.NewWriter(&sb)
	if err := w.Write(csvHeader); err != nil {
		return fmt.Errorf("write csv header: %w", err)
	}
	for _, r := range results {
		row := []string{
			r.Intent.ID,
			strconv.FormatFloat(r.Intent.Timestamp, 'f', -1, 64),
			r.Intent.TraderID,
			string(r.Intent.Outcome),
			string(r.Intent.Side),
			string(r.Intent.Type),
			optString(r.Intent.Price),
			optString(r.Intent.Qty),
			string(r.Status),
			optString(r.AvgFillPrice),
			optString(r.Slippage),
			optString(r.PriceImpact),
		}
		if err := w.Write(row); err != nil {
			return fmt.Errorf("write csv row: %w", err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return fmt.Errorf("flush csv: %w", err)
	}
	return writeAtomic(path, []byte(sb.String()))
}

func optString(d *decimal.Decimal) string {
	if d == nil {
		return ""
	}
	return d.String()
}

// GoldenSnapshot renders the terminal market and trader state with
// 28-digit decimal strings. Regression passes require a bit-exact match
// against the stored golden file.
func GoldenSnapshot(amm *types.AMMSnapshot, traders []types.TraderState) string {
	var sb strings.Builder
	if amm != nil {
		fmt.Fprintf(&sb, "qYes=%s\n", num.String28(amm.QYes))
		fmt.Fprintf(&sb, "qNo=%s\n", num.String28(amm.QNo))
		fmt.Fprintf(&sb, "totalCollected=%s\n", num.String28(amm.TotalCollected))
		fmt.Fprintf(&sb, "pYES=%s\n", num.String28(amm.PriceYes))
		fmt.Fprintf(&sb, "pNO=%s\n", num.String28(amm.PriceNo))
	}
	for _, t := range traders {
		fmt.Fprintf(&sb, "trader %s cash=%s yesShares=%s noShares=%s\n",
			t.ID, num.String28(t.Cash), num.String28(t.YesShares), num.String28(t.NoShares))
	}
	return sb.String()
}

// WriteGolden writes the golden snapshot text.
func WriteGolden(path string, amm *types.AMMSnapshot, traders []types.TraderState) error {
	return writeAtomic(path, []byte(GoldenSnapshot(amm, traders)))
}

// writeAtomic writes to a .tmp sibling and renames over the target.
func writeAtomic(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create export dir: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return os.Rename(tmp, path)
}
