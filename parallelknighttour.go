// Package parallelknighttour searches for knight's tours on rectangular
// boards using randomized-order backtracking, running many independent
// attempts in parallel and persisting every closed tour it finds.
package parallelknighttour

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"math/rand"
	"runtime"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// knightMoves is the number of legal knight displacement vectors.
const knightMoves = 8

// Cell represents a position on the board.
type Cell struct {
	X, Y int
}

// MoveVector represents a single knight displacement.
type MoveVector struct {
	DX, DY int
}

// MoveSet is an ordered permutation of the eight knight displacement
// vectors. The order determines branch exploration order only; it never
// affects which moves are legal.
type MoveSet [knightMoves]MoveVector

// NewMoveSet returns the knight displacement vectors in canonical order.
func NewMoveSet() MoveSet {
	return MoveSet{
		{-2, -1}, {-2, 1}, {-1, -2}, {-1, 2},
		{1, -2}, {1, 2}, {2, -1}, {2, 1},
	}
}

// Shuffle applies swaps random pairwise transpositions in place, giving the
// next attempt a different branch exploration order. No uniformity is
// guaranteed; diversification across attempts is all that matters here.
func (m *MoveSet) Shuffle(rng *rand.Rand, swaps int) {
	for i := 0; i < swaps; i++ {
		a := rng.Intn(knightMoves)
		b := rng.Intn(knightMoves)
		m[a], m[b] = m[b], m[a]
	}
}

// Board records, per cell, the 1-based step at which the knight visited it.
// Zero means unvisited. During a valid partial search the nonzero values are
// exactly {1, ..., step} with no duplicates.
type Board struct {
	width  int
	height int
	cells  []int
}

// NewBoard creates an empty board with the given dimensions.
func NewBoard(width, height int) *Board {
	return &Board{
		width:  width,
		height: height,
		cells:  make([]int, width*height),
	}
}

// Width returns the board width.
func (b *Board) Width() int { return b.width }

// Height returns the board height.
func (b *Board) Height() int { return b.height }

// InBounds reports whether c lies on the board.
func (b *Board) InBounds(c Cell) bool {
	return c.X >= 0 && c.X < b.width && c.Y >= 0 && c.Y < b.height
}

// At returns the visitation step recorded at c, or 0 if unvisited.
func (b *Board) At(c Cell) int {
	return b.cells[c.Y*b.width+c.X]
}

// Mark records that c was visited at the given 1-based step.
func (b *Board) Mark(c Cell, step int) {
	b.cells[c.Y*b.width+c.X] = step
}

// Unmark clears the visitation record at c.
func (b *Board) Unmark(c Cell) {
	b.cells[c.Y*b.width+c.X] = 0
}

// Occupied reports whether c has been visited.
func (b *Board) Occupied(c Cell) bool {
	return b.cells[c.Y*b.width+c.X] != 0
}

// Reset clears all cells.
func (b *Board) Reset() {
	for i := range b.cells {
		b.cells[i] = 0
	}
}

// Grid returns a copy of the board as rows indexed [y][x].
func (b *Board) Grid() [][]int {
	rows := make([][]int, b.height)
	for y := 0; y < b.height; y++ {
		rows[y] = make([]int, b.width)
		for x := 0; x < b.width; x++ {
			rows[y][x] = b.cells[y*b.width+x]
		}
	}
	return rows
}

// IsClosedTour reports whether last and first are a single knight move
// apart, i.e. whether a tour ending at last and starting at first forms a
// cycle. The predicate is symmetric in its arguments.
func IsClosedTour(last, first Cell) bool {
	dx := abs(last.X - first.X)
	dy := abs(last.Y - first.Y)
	return (dx == 1 && dy == 2) || (dx == 2 && dy == 1)
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}

// trackFrame is one entry of the search track: a visited position and the
// index of the next untried move vector from it.
type trackFrame struct {
	pos    Cell
	cursor int
}

// Outcome reports how one search attempt ended.
type Outcome int

const (
	// OutcomeExhausted means the backtrack cascade dropped below the start
	// frame: the whole space for this start and move order was explored.
	OutcomeExhausted Outcome = iota
	// OutcomeBudget means the move-evaluation budget ran out first.
	OutcomeBudget
)

// String returns a human-readable outcome name.
func (o Outcome) String() string {
	switch o {
	case OutcomeExhausted:
		return "exhausted"
	case OutcomeBudget:
		return "budget"
	default:
		return "unknown"
	}
}

// TourEvent describes one completed full board discovered during a search.
// Board is shared with the engine that produced it and is only valid for the
// duration of the callback that receives the event; handlers must copy
// anything they keep (see Board.Grid).
type TourEvent struct {
	Unit   int
	Start  Cell
	Last   Cell
	Closed bool
	Board  *Board
}

// SearchEngine drives one backtracking attempt over a private board: try a
// move, accept it, or advance the cursor and cascade backtracks when every
// vector from a position has failed.
type SearchEngine struct {
	board  *Board
	moves  MoveSet
	track  []trackFrame
	budget uint64
	tries  uint64
}

// NewSearchEngine prepares an attempt on board starting from start. The
// board is reset and the start cell marked as step 1. The engine owns the
// board until Run returns.
func NewSearchEngine(board *Board, moves MoveSet, start Cell, budget uint64) *SearchEngine {
	e := &SearchEngine{
		board:  board,
		moves:  moves,
		track:  make([]trackFrame, board.Width()*board.Height()),
		budget: budget,
	}
	e.board.Reset()
	e.board.Mark(start, 1)
	e.track[0] = trackFrame{pos: start}
	return e
}

// Tries returns the number of move evaluations performed so far.
func (e *SearchEngine) Tries() uint64 { return e.tries }

// Run drives the attempt until the search space is exhausted or the budget
// runs out. onTour is invoked synchronously for every full board; after it
// returns the engine forces a backtrack and keeps searching for further
// completions. onTour may be nil.
func (e *SearchEngine) Run(onTour func(closed bool, last Cell, board *Board)) Outcome {
	n := len(e.track)
	step := 0
	for e.tries < e.budget {
		for !e.tryMove(step) {
			e.tries++
			e.track[step].cursor++
			for e.track[step].cursor == knightMoves {
				var ok bool
				if step, ok = e.backtrack(step); !ok {
					return OutcomeExhausted
				}
			}
			if e.tries >= e.budget {
				return OutcomeBudget
			}
		}
		e.tries++
		step = e.accept(step)

		if step == n-1 {
			if onTour != nil {
				last := e.track[step].pos
				onTour(IsClosedTour(last, e.track[0].pos), last, e.board)
			}
			// The last placement is treated as failed so the attempt
			// resumes looking for further completions.
			var ok bool
			if step, ok = e.backtrack(step); !ok {
				return OutcomeExhausted
			}
			for e.track[step].cursor == knightMoves {
				if step, ok = e.backtrack(step); !ok {
					return OutcomeExhausted
				}
			}
		}
	}
	return OutcomeBudget
}

// tryMove reports whether the move under the current cursor at step lands on
// an unoccupied in-bounds cell.
func (e *SearchEngine) tryMove(step int) bool {
	mv := e.moves[e.track[step].cursor]
	c := Cell{X: e.track[step].pos.X + mv.DX, Y: e.track[step].pos.Y + mv.DY}
	return e.board.InBounds(c) && !e.board.Occupied(c)
}

// accept pushes the cell under the current cursor as the next frame and
// marks it on the board. Must only be called after tryMove succeeded for the
// same step.
func (e *SearchEngine) accept(step int) int {
	mv := e.moves[e.track[step].cursor]
	next := Cell{X: e.track[step].pos.X + mv.DX, Y: e.track[step].pos.Y + mv.DY}
	step++
	e.track[step] = trackFrame{pos: next}
	e.board.Mark(next, step+1)
	return step
}

// backtrack unmarks the cell placed at step and advances the parent frame's
// cursor. ok is false when step was the start frame, i.e. the search space
// for this attempt is exhausted.
func (e *SearchEngine) backtrack(step int) (next int, ok bool) {
	e.board.Unmark(e.track[step].pos)
	step--
	if step < 0 {
		return step, false
	}
	e.track[step].cursor++
	return step, true
}

// Config contains configuration for a parallel tour search.
type Config struct {
	Width        int
	Height       int
	NumStarts    int    // start positions to attempt
	NumPatterns  int    // shuffled move patterns per start
	MaxMoves     uint64 // per-attempt move evaluation budget
	ShuffleSwaps int    // pairwise swaps applied per pattern shuffle
	MaxWorkers   int    // simultaneously active attempts
	MasterSeed   int64  // seeds every per-unit generator; 0 means time-based
	StartCells   []Cell // explicit start cells; overrides NumStarts when set
	Logger       *slog.Logger
	OnTour       func(TourEvent) // called under the aggregator lock; keep it fast
}

// SearchStats contains aggregate counters for one run. Tours reachable via
// multiple search paths are counted each time they are found; duplicates are
// not removed.
type SearchStats struct {
	ToursFound     int64
	ClosedTours    int64
	OpenTours      int64
	UnitsRun       int
	UnitsExhausted int
	UnitsBudgeted  int
	MovesEvaluated uint64
	WorkersUsed    int
	Duration       time.Duration
}

var (
	// ErrInvalidDimensions indicates a non-positive board width or height.
	ErrInvalidDimensions = errors.New("board dimensions must be positive")
	// ErrBudgetTooLarge indicates the move budget is not strictly smaller
	// than the number of possible move sequences for the board.
	ErrBudgetTooLarge = errors.New("move budget exceeds the number of possible move sequences")
	// ErrStartOutOfBounds indicates an explicit start cell off the board.
	ErrStartOutOfBounds = errors.New("start cell out of bounds")
	// ErrNilSink indicates no result sink was supplied.
	ErrNilSink = errors.New("result sink is nil")
)

// ParallelTourSearcher coordinates independent knight tour search attempts
// across a bounded worker pool. Each attempt owns a private board, track and
// move set; the only shared state is the aggregate counters and the sink,
// both guarded by a single lock.
type ParallelTourSearcher struct {
	config Config
}

// NewParallelTourSearcher creates a searcher, filling zero config fields
// with defaults.
func NewParallelTourSearcher(config Config) *ParallelTourSearcher {
	if config.Width <= 0 {
		config.Width = 6
	}
	if config.Height <= 0 {
		config.Height = 6
	}
	if len(config.StartCells) > 0 {
		config.NumStarts = len(config.StartCells)
	} else if config.NumStarts <= 0 {
		config.NumStarts = 5
	}
	if config.NumPatterns <= 0 {
		config.NumPatterns = 4
	}
	if config.MaxMoves == 0 {
		config.MaxMoves = 200_000_000
	}
	if config.ShuffleSwaps <= 0 {
		config.ShuffleSwaps = 10
	}
	if config.MaxWorkers <= 0 {
		config.MaxWorkers = runtime.NumCPU()
	}
	if config.MasterSeed == 0 {
		config.MasterSeed = time.Now().UnixNano()
	}
	if config.Logger == nil {
		config.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &ParallelTourSearcher{config: config}
}

// Validate runs the startup checks without searching. Search performs the
// same checks; Validate lets callers fail before acquiring a sink.
func (s *ParallelTourSearcher) Validate() error {
	return s.config.validate()
}

func (c *Config) validate() error {
	if c.Width <= 0 || c.Height <= 0 {
		return ErrInvalidDimensions
	}
	n := c.Width * c.Height
	if float64(c.MaxMoves) >= math.Pow(knightMoves, float64(n-1)) {
		return ErrBudgetTooLarge
	}
	for _, s := range c.StartCells {
		if s.X < 0 || s.X >= c.Width || s.Y < 0 || s.Y >= c.Height {
			return fmt.Errorf("%w: (%d,%d)", ErrStartOutOfBounds, s.X, s.Y)
		}
	}
	return nil
}

// Search runs NumStarts x NumPatterns independent attempts and appends every
// closed tour found to sink. The sink must already be open; writes are
// serialized with the shared counter updates under a single lock, so no two
// tours' text can interleave. Startup checks run before any unit launches;
// once a unit is launched it always runs to its own completion. ctx is only
// consulted between unit launches.
func (s *ParallelTourSearcher) Search(ctx context.Context, sink TourSink) (*SearchStats, error) {
	if sink == nil {
		return nil, ErrNilSink
	}
	if err := s.config.validate(); err != nil {
		return nil, err
	}
	if (s.config.Width*s.config.Height)%2 != 0 {
		// A bicolored-board parity argument rules out closed tours on an
		// odd cell count. The search still runs; it can only find open
		// tours.
		s.config.Logger.Warn("odd cell count, no closed tour exists",
			"width", s.config.Width, "height", s.config.Height)
	}

	started := time.Now()
	starts := s.startCells()
	agg := &tourAggregator{
		sink:   sink,
		logger: s.config.Logger,
		onTour: s.config.OnTour,
	}

	g := new(errgroup.Group)
	g.SetLimit(s.config.MaxWorkers)

	units := 0
dispatch:
	for si, start := range starts {
		for p := 0; p < s.config.NumPatterns; p++ {
			if ctx.Err() != nil {
				break dispatch
			}
			unit := si*s.config.NumPatterns + p
			g.Go(func() error {
				return s.runUnit(unit, start, agg)
			})
			units++
		}
	}

	err := g.Wait()
	if err == nil {
		err = ctx.Err()
	}

	stats := agg.snapshot()
	stats.UnitsRun = units
	stats.WorkersUsed = s.config.MaxWorkers
	stats.Duration = time.Since(started)

	s.config.Logger.Info("search complete",
		"tours_found", stats.ToursFound,
		"closed", stats.ClosedTours,
		"opened", stats.OpenTours,
		"units", stats.UnitsRun,
		"moves", stats.MovesEvaluated,
		"duration", stats.Duration)

	return &stats, err
}

// startCells returns the configured explicit start cells, or draws one per
// start slot from the master-seeded generator.
func (s *ParallelTourSearcher) startCells() []Cell {
	if len(s.config.StartCells) > 0 {
		return s.config.StartCells
	}
	rng := rand.New(rand.NewSource(s.config.MasterSeed))
	cells := make([]Cell, s.config.NumStarts)
	for i := range cells {
		cells[i] = Cell{X: rng.Intn(s.config.Width), Y: rng.Intn(s.config.Height)}
	}
	return cells
}

// runUnit executes one (start, pattern) attempt with its own generator,
// board and track. The +1 keeps unit 0 from sharing the start-cell
// generator's seed.
func (s *ParallelTourSearcher) runUnit(unit int, start Cell, agg *tourAggregator) error {
	rng := rand.New(rand.NewSource(s.config.MasterSeed + int64(unit) + 1))
	moves := NewMoveSet()
	moves.Shuffle(rng, s.config.ShuffleSwaps)

	board := NewBoard(s.config.Width, s.config.Height)
	engine := NewSearchEngine(board, moves, start, s.config.MaxMoves)

	s.config.Logger.Debug("unit started",
		"unit", unit, "start_x", start.X, "start_y", start.Y)

	var sinkErr error
	outcome := engine.Run(func(closed bool, last Cell, b *Board) {
		err := agg.record(TourEvent{
			Unit:   unit,
			Start:  start,
			Last:   last,
			Closed: closed,
			Board:  b,
		})
		if err != nil && sinkErr == nil {
			sinkErr = err
		}
	})
	agg.finishUnit(outcome, engine.Tries())

	s.config.Logger.Debug("unit finished",
		"unit", unit, "outcome", outcome.String(), "moves", engine.Tries())
	return sinkErr
}

// tourAggregator owns the shared counters and the result sink. Every
// full-board event from every unit funnels through record, which holds the
// lock across both the counter update and the conditional sink append so the
// two can never interleave between units.
type tourAggregator struct {
	mu     sync.Mutex
	stats  SearchStats
	sink   TourSink
	logger *slog.Logger
	onTour func(TourEvent)
}

func (a *tourAggregator) record(ev TourEvent) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.stats.ToursFound++
	if ev.Closed {
		a.stats.ClosedTours++
		a.logger.Info("found closed knight tour",
			"unit", ev.Unit, "tours_found", a.stats.ToursFound)
	} else {
		a.stats.OpenTours++
		a.logger.Info("found open knight tour",
			"unit", ev.Unit, "tours_found", a.stats.ToursFound)
	}
	if a.onTour != nil {
		a.onTour(ev)
	}
	if ev.Closed {
		if err := a.sink.AppendTour(ev.Board); err != nil {
			return fmt.Errorf("append closed tour: %w", err)
		}
	}
	return nil
}

func (a *tourAggregator) finishUnit(outcome Outcome, tries uint64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.stats.MovesEvaluated += tries
	switch outcome {
	case OutcomeExhausted:
		a.stats.UnitsExhausted++
	case OutcomeBudget:
		a.stats.UnitsBudgeted++
	}
}

func (a *tourAggregator) snapshot() SearchStats {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.stats
}
