package goal

import (
	"fmt"
	"math"
	"strings"

	"nutrition-bot/internal/models"
)

// Delta compares one eaten macro against its target.
type Delta struct {
	Label  string
	Unit   string
	Eaten  float64
	Target float64
}

// Diff is positive when the target is exceeded.
func (d Delta) Diff() float64 { return round1(d.Eaten - d.Target) }

func (d Delta) Over() bool { return d.Diff() > 0 }

// Compare returns the per-macro deltas in display order.
func Compare(totals models.Macros, t models.Targets) []Delta {
	return []Delta{
		{Label: "Калории", Unit: "ккал", Eaten: round1(totals.Calories), Target: float64(t.Calories)},
		{Label: "Белки", Unit: "г", Eaten: round1(totals.Protein), Target: float64(t.Protein)},
		{Label: "Жиры", Unit: "г", Eaten: round1(totals.Fat), Target: float64(t.Fat)},
		{Label: "Углеводы", Unit: "г", Eaten: round1(totals.Carbs), Target: float64(t.Carbs)},
	}
}

// ProgressText renders today's totals against the targets with exact deltas.
func ProgressText(totals models.Macros, t models.Targets) string {
	var b strings.Builder
	b.WriteString("🎯 Прогресс за сегодня:\n")
	for _, d := range Compare(totals, t) {
		fmt.Fprintf(&b, "%s: %s / %s %s", d.Label, num(d.Eaten), num(d.Target), d.Unit)
		switch diff := d.Diff(); {
		case diff > 0:
			fmt.Fprintf(&b, " ⚠️ превышение на %s %s\n", num(diff), d.Unit)
		case diff < 0:
			fmt.Fprintf(&b, " (осталось %s %s)\n", num(-diff), d.Unit)
		default:
			b.WriteString(" ✅ ровно по цели\n")
		}
	}
	return strings.TrimRight(b.String(), "\n")
}

// TargetsText renders the targets of a freshly computed goal.
func TargetsText(t models.Targets) string {
	return fmt.Sprintf("Ваша дневная норма:\nКалории: %d ккал\nБелки: %d г\nЖиры: %d г\nУглеводы: %d г",
		t.Calories, t.Protein, t.Fat, t.Carbs)
}

func round1(v float64) float64 { return math.Round(v*10) / 10 }

func num(v float64) string {
	if v == math.Trunc(v) {
		return fmt.Sprintf("%.0f", v)
	}
	return fmt.Sprintf("%.1f", v)
}
