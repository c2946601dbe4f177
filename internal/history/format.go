package history

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"strings"

	"nutrition-bot/internal/models"
)

// MacrosLine renders totals as a single line.
func MacrosLine(m models.Macros) string {
	return fmt.Sprintf("%.0f ккал, Б %.1f г, Ж %.1f г, У %.1f г", m.Calories, m.Protein, m.Fat, m.Carbs)
}

// PageText renders a history page for a chat message.
func PageText(u *models.User, p *Page) string {
	var b strings.Builder
	for i, d := range p.Days {
		if i > 0 {
			b.WriteString("\n")
		}
		fmt.Fprintf(&b, "📅 %s\n", d.Date.Format("02.01.2006"))
		if len(d.Meals) == 0 {
			b.WriteString("Нет записей\n")
			continue
		}
		for _, m := range d.Meals {
			fmt.Fprintf(&b, "%s %s, %.0f г: %s\n",
				u.LocalTime(m.CreatedAt).Format("15:04"), m.Name, m.Serving, MacrosLine(m.Macros))
		}
		fmt.Fprintf(&b, "Итого: %s\n", MacrosLine(d.Totals))
	}
	return strings.TrimRight(b.String(), "\n")
}

var csvHeader = []string{"created_at", "name", "type", "ingredients", "serving", "calories", "protein", "fat", "carbs"}

// WriteCSV writes meals as CSV with local timestamps.
func WriteCSV(w io.Writer, u *models.User, meals []models.Meal) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(csvHeader); err != nil {
		return err
	}
	f := func(v float64) string { return strconv.FormatFloat(v, 'f', -1, 64) }
	for _, m := range meals {
		rec := []string{
			u.LocalTime(m.CreatedAt).Format("2006-01-02 15:04"),
			m.Name,
			string(m.Type),
			strings.Join(m.Ingredients, ", "),
			f(m.Serving),
			f(m.Calories),
			f(m.Protein),
			f(m.Fat),
			f(m.Carbs),
		}
		if err := cw.Write(rec); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}
