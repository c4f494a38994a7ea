package planner

import (
	"sort"
	"strconv"
	"strings"
	"time"
)

// MealPlan represents a weekly meal plan: day name -> meal slot -> recipe id.
// A nil recipe id marks an intentionally empty slot.
type MealPlan struct {
	ID        int64                        `json:"id,omitempty"`
	UserID    string                       `json:"user_id"`
	WeekStart time.Time                    `json:"week_start"`
	Days      map[string]map[string]*int64 `json:"days"`
	Revision  int64                        `json:"revision"`
	CreatedAt time.Time                    `json:"created_at"`
	UpdatedAt time.Time                    `json:"updated_at"`
}

// ScheduledMeal is one filled slot of a plan.
type ScheduledMeal struct {
	Day      string
	Slot     string
	RecipeID int64
}

var dayOrder = map[string]int{
	"monday": 0, "lundi": 0,
	"tuesday": 1, "mardi": 1,
	"wednesday": 2, "mercredi": 2,
	"thursday": 3, "jeudi": 3,
	"friday": 4, "vendredi": 4,
	"saturday": 5, "samedi": 5,
	"sunday": 6, "dimanche": 6,
}

var slotOrder = map[string]int{
	"breakfast": 0, "petit_dejeuner": 0, "petit-dejeuner": 0, "petit_déjeuner": 0,
	"lunch": 1, "dejeuner": 1, "déjeuner": 1,
	"snack": 2, "gouter": 2, "goûter": 2, "collation": 2,
	"dinner": 3, "diner": 3, "dîner": 3,
}

// Meals returns every filled slot of the plan in a deterministic order:
// days by weekday (unknown names last, alphabetically), slots by meal order
// (unknown slots last, in natural order so "repas2" sorts before "repas10").
func (p *MealPlan) Meals() []ScheduledMeal {
	days := make([]string, 0, len(p.Days))
	for day := range p.Days {
		days = append(days, day)
	}
	sort.Slice(days, func(i, j int) bool {
		return lessByRank(days[i], days[j], dayOrder)
	})

	var meals []ScheduledMeal
	for _, day := range days {
		slots := make([]string, 0, len(p.Days[day]))
		for slot := range p.Days[day] {
			slots = append(slots, slot)
		}
		sort.Slice(slots, func(i, j int) bool {
			return lessByRank(slots[i], slots[j], slotOrder)
		})

		for _, slot := range slots {
			recipeID := p.Days[day][slot]
			if recipeID == nil {
				continue
			}
			meals = append(meals, ScheduledMeal{Day: day, Slot: slot, RecipeID: *recipeID})
		}
	}
	return meals
}

func lessByRank(a, b string, ranks map[string]int) bool {
	ra, okA := ranks[strings.ToLower(a)]
	rb, okB := ranks[strings.ToLower(b)]
	switch {
	case okA && okB:
		if ra != rb {
			return ra < rb
		}
		return a < b
	case okA:
		return true
	case okB:
		return false
	}
	return naturalLess(a, b)
}

// naturalLess compares strings treating a trailing run of digits as a number.
func naturalLess(a, b string) bool {
	pa, na, okA := splitTrailingNumber(a)
	pb, nb, okB := splitTrailingNumber(b)
	if okA && okB && pa == pb && na != nb {
		return na < nb
	}
	return a < b
}

func splitTrailingNumber(s string) (string, int, bool) {
	i := len(s)
	for i > 0 && s[i-1] >= '0' && s[i-1] <= '9' {
		i--
	}
	if i == len(s) {
		return s, 0, false
	}
	n, err := strconv.Atoi(s[i:])
	if err != nil {
		return s, 0, false
	}
	return s[:i], n, true
}
