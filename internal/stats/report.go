package stats

import (
	"sort"

	mstats "github.com/montanaflynn/stats"
)

// Total is a player's summed net for the current year.
type Total struct {
	PlayerName string  `json:"playerName"`
	TotalNet   float64 `json:"totalNet"`
}

// Summary describes a player's results across this year's games.
type Summary struct {
	PlayerName string  `json:"playerName"`
	Games      int     `json:"games"`
	TotalNet   float64 `json:"totalNet"`
	Mean       float64 `json:"mean"`
	Median     float64 `json:"median"`
	Best       float64 `json:"best"`
	Worst      float64 `json:"worst"`
}

func (a *Aggregator) currentYear() map[string][]float64 {
	now := a.now()
	year := now.Year()

	byName := make(map[string][]float64)
	for _, r := range a.records {
		if r.Date.In(now.Location()).Year() != year {
			continue
		}
		byName[r.PlayerName] = append(byName[r.PlayerName], r.NetAmount)
	}
	return byName
}

// YearTotals sums this year's nets per player name, highest first.
func (a *Aggregator) YearTotals() []Total {
	byName := a.currentYear()

	totals := make([]Total, 0, len(byName))
	for name, nets := range byName {
		sum, _ := mstats.Sum(nets)
		totals = append(totals, Total{PlayerName: name, TotalNet: sum})
	}
	sort.Slice(totals, func(i, j int) bool {
		if totals[i].TotalNet != totals[j].TotalNet {
			return totals[i].TotalNet > totals[j].TotalNet
		}
		return totals[i].PlayerName < totals[j].PlayerName
	})
	return totals
}

// Summaries is YearTotals with per-game figures, in the same order.
func (a *Aggregator) Summaries() ([]Summary, error) {
	byName := a.currentYear()

	out := make([]Summary, 0, len(byName))
	for _, total := range a.YearTotals() {
		nets := mstats.Float64Data(byName[total.PlayerName])

		mean, err := nets.Mean()
		if err != nil {
			return nil, err
		}
		median, err := nets.Median()
		if err != nil {
			return nil, err
		}
		best, err := nets.Max()
		if err != nil {
			return nil, err
		}
		worst, err := nets.Min()
		if err != nil {
			return nil, err
		}

		out = append(out, Summary{
			PlayerName: total.PlayerName,
			Games:      nets.Len(),
			TotalNet:   total.TotalNet,
			Mean:       mean,
			Median:     median,
			Best:       best,
			Worst:      worst,
		})
	}
	return out, nil
}
