package assign

import (
	"context"
	"math"
)

// forbiddenCost marks pairs that are not candidates and padding cells. It
// dominates any real pair cost, so the solver places as many real pairs as
// it can before it minimizes their total cost.
const forbiddenCost = 1e3

// solveFunc computes a minimum-cost assignment over a rows x cols matrix and
// returns the chosen column per row, or -1.
type solveFunc func(ctx context.Context, cost [][]float64) ([]int, error)

// solveRect pads cost to a square matrix and runs the Hungarian solver.
// Rows matched to a forbidden cell come back as -1.
func solveRect(ctx context.Context, cost [][]float64) ([]int, error) {
	rows := len(cost)
	if rows == 0 {
		return nil, nil
	}
	cols := len(cost[0])
	n := max(rows, cols)
	square := make([][]float64, n)
	for i := range square {
		square[i] = make([]float64, n)
		for j := range square[i] {
			if i < rows && j < cols {
				square[i][j] = cost[i][j]
			} else {
				square[i][j] = forbiddenCost
			}
		}
	}

	assign, err := hungarian(ctx, square)
	if err != nil {
		return nil, err
	}
	out := make([]int, rows)
	for i := range out {
		j := assign[i]
		if j < 0 || j >= cols || cost[i][j] >= forbiddenCost {
			out[i] = -1
			continue
		}
		out[i] = j
	}
	return out, nil
}

// hungarian solves the assignment problem for a square cost matrix
// (minimization). It checks ctx once per row and stops early when it is done.
func hungarian(ctx context.Context, cost [][]float64) ([]int, error) {
	n := len(cost)
	if n == 0 {
		return nil, nil
	}

	u := make([]float64, n+1)
	v := make([]float64, n+1)
	p := make([]int, n+1)
	way := make([]int, n+1)
	minv := make([]float64, n+1)
	used := make([]bool, n+1)

	for i := 1; i <= n; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		p[0] = i
		j0 := 0
		for j := 0; j <= n; j++ {
			minv[j] = math.Inf(1)
			used[j] = false
		}
		for {
			used[j0] = true
			i0 := p[j0]
			delta := math.Inf(1)
			j1 := 0
			for j := 1; j <= n; j++ {
				if used[j] {
					continue
				}
				cur := cost[i0-1][j-1] - u[i0] - v[j]
				if cur < minv[j] {
					minv[j] = cur
					way[j] = j0
				}
				if minv[j] < delta {
					delta = minv[j]
					j1 = j
				}
			}
			for j := 0; j <= n; j++ {
				if used[j] {
					u[p[j]] += delta
					v[j] -= delta
				} else {
					minv[j] -= delta
				}
			}
			j0 = j1
			if p[j0] == 0 {
				break
			}
		}
		for {
			j1 := way[j0]
			p[j0] = p[j1]
			j0 = j1
			if j0 == 0 {
				break
			}
		}
	}

	assign := make([]int, n)
	for i := range assign {
		assign[i] = -1
	}
	for j := 1; j <= n; j++ {
		if p[j] > 0 {
			assign[p[j]-1] = j - 1
		}
	}
	return assign, nil
}
