// Package uci implements the Universal Chess Interface protocol on top of
// internal/search and internal/eval.
package uci

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"runtime/pprof"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/go-logr/logr"

	"github.com/pkremer/chessforge/internal/board"
	"github.com/pkremer/chessforge/internal/eval"
	"github.com/pkremer/chessforge/internal/nn"
	"github.com/pkremer/chessforge/internal/search"
)

const (
	engineName   = "ChessForge"
	engineAuthor = "ChessForge contributors"
)

// UCI implements the Universal Chess Interface protocol.
type UCI struct {
	log logr.Logger

	hce       *eval.HCE
	nnEval    *nn.Evaluator
	evaluator eval.Evaluator
	searcher  *search.Searcher
	cfg       search.Config
	hashMB    int

	position *board.Position

	// Position history for repetition detection.
	positionHashes []uint64

	searching     bool
	searchDone    chan struct{}
	stopRequested atomic.Bool
	cancel        context.CancelFunc

	profileFile *os.File
}

// New creates a UCI protocol handler with default search tuning, logging
// through log (the caller wires this to a go-logr sink; a discard logger is
// fine for engines that only ever talk over stdout).
func New(log logr.Logger) *UCI {
	cfg := search.DefaultConfig()
	hce := eval.NewHCE(16)
	u := &UCI{
		log:       log,
		hce:       hce,
		evaluator: hce,
		searcher:  search.NewSearcher(cfg, hce),
		cfg:       cfg,
		hashMB:    cfg.HashMB,
		position:  board.NewPosition(),
	}
	u.searcher.SetIterationCallback(u.sendInfo)
	return u
}

// rebuildSearcher recreates the searcher around u.evaluator, preserving the
// hash size and iteration callback; used whenever either changes.
func (u *UCI) rebuildSearcher() {
	u.searcher = search.NewSearcher(u.cfg, u.evaluator)
	u.searcher.SetIterationCallback(u.sendInfo)
	u.searcher.SetHashSize(u.hashMB)
}

// Run starts the UCI main loop, reading commands from stdin until "quit" or
// EOF.
func (u *UCI) Run() {
	scanner := bufio.NewScanner(os.Stdin)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		parts := strings.Fields(line)
		cmd := parts[0]
		args := parts[1:]

		switch cmd {
		case "uci":
			u.handleUCI()
		case "isready":
			fmt.Println("readyok")
		case "ucinewgame":
			u.handleNewGame()
		case "position":
			u.handlePosition(args)
		case "go":
			u.handleGo(args)
		case "stop":
			u.handleStop()
		case "quit":
			u.handleQuit()
		case "setoption":
			u.handleSetOption(args)
		case "d":
			fmt.Println(u.position.String())
		case "perft":
			u.handlePerft(args)
		default:
			u.log.V(1).Info("unrecognized command", "cmd", cmd)
		}
	}
}

func (u *UCI) handleUCI() {
	fmt.Printf("id name %s\n", engineName)
	fmt.Printf("id author %s\n", engineAuthor)
	fmt.Println()
	fmt.Println("option name Hash type spin default 16 min 1 max 4096")
	fmt.Println("option name MoveOverhead type spin default 30 min 0 max 5000")
	fmt.Println("option name UseCorrectionHistory type check default false")
	fmt.Println("option name Evaluator type combo default HCE var HCE var NN")
	fmt.Println("option name EvalFile type string default <empty>")
	fmt.Println("option name EvalCache type spin default 262144 min 1024 max 8388608")
	fmt.Println("uciok")
}

func (u *UCI) handleNewGame() {
	u.searcher.NewGame()
	u.evaluator.ClearStats()
	u.position = board.NewPosition()
	u.positionHashes = []uint64{u.position.Hash}
}

// handlePosition parses and sets up a position.
//
//	position startpos
//	position startpos moves e2e4 e7e5
//	position fen <fen>
//	position fen <fen> moves e2e4
func (u *UCI) handlePosition(args []string) {
	if len(args) == 0 {
		return
	}

	u.positionHashes = nil
	var moveStart int

	switch args[0] {
	case "startpos":
		u.position = board.NewPosition()
		moveStart = len(args)
		for i, arg := range args {
			if arg == "moves" {
				moveStart = i + 1
				break
			}
		}
	case "fen":
		fenEnd := len(args)
		for i, arg := range args[1:] {
			if arg == "moves" {
				fenEnd = i + 1
				break
			}
		}
		fenStr := strings.Join(args[1:fenEnd], " ")
		pos, err := board.ParseFEN(fenStr)
		if err != nil {
			u.log.Error(err, "invalid FEN", "fen", fenStr)
			return
		}
		u.position = pos
		moveStart = len(args)
		for i, arg := range args {
			if arg == "moves" {
				moveStart = i + 1
				break
			}
		}
	default:
		return
	}

	u.positionHashes = append(u.positionHashes, u.position.Hash)

	if moveStart < len(args) {
		for _, moveStr := range args[moveStart:] {
			move := u.parseMove(moveStr)
			if move == board.NoMove {
				u.log.Info("invalid move in position command", "move", moveStr)
				return
			}
			u.position.MakeMove(move)
			u.position.UpdateCheckers()
			u.positionHashes = append(u.positionHashes, u.position.Hash)
		}
	}
}

// parseMove converts a UCI long-algebraic move string to a board.Move by
// matching it against the position's legal moves.
func (u *UCI) parseMove(moveStr string) board.Move {
	if len(moveStr) < 4 {
		return board.NoMove
	}

	fromFile := int(moveStr[0] - 'a')
	fromRank := int(moveStr[1] - '1')
	toFile := int(moveStr[2] - 'a')
	toRank := int(moveStr[3] - '1')
	if fromFile < 0 || fromFile > 7 || fromRank < 0 || fromRank > 7 ||
		toFile < 0 || toFile > 7 || toRank < 0 || toRank > 7 {
		return board.NoMove
	}

	from := board.NewSquare(fromFile, fromRank)
	to := board.NewSquare(toFile, toRank)

	var promo board.PieceType
	if len(moveStr) >= 5 {
		switch moveStr[4] {
		case 'q':
			promo = board.Queen
		case 'r':
			promo = board.Rook
		case 'b':
			promo = board.Bishop
		case 'n':
			promo = board.Knight
		}
	}

	moves := u.position.GenerateLegalMoves()
	for i := 0; i < moves.Len(); i++ {
		m := moves.Get(i)
		if m.From() != from || m.To() != to {
			continue
		}
		if promo != 0 {
			if m.IsPromotion() && m.Promotion() == promo {
				return m
			}
			continue
		}
		if !m.IsPromotion() {
			return m
		}
	}
	return board.NoMove
}

// goOptions holds parsed "go" command arguments.
type goOptions struct {
	Depth     int
	Nodes     uint64
	MoveTime  time.Duration
	Infinite  bool
	Ponder    bool
	WTime     time.Duration
	BTime     time.Duration
	WInc      time.Duration
	BInc      time.Duration
	MovesToGo int
}

func (u *UCI) handleGo(args []string) {
	opts := u.parseGoOptions(args)
	limits := u.toSearchLimits(opts)

	u.searcher.SetPositionHistory(u.positionHashes)

	ctx, cancel := context.WithCancel(context.Background())
	u.cancel = cancel
	u.searching = true
	u.stopRequested.Store(false)
	u.searchDone = make(chan struct{})

	pos := u.position.Copy()
	root := u.position.Copy()

	go func() {
		defer close(u.searchDone)
		defer cancel()

		best := u.searcher.Search(ctx, pos, limits)
		u.searching = false

		if best == board.NoMove {
			legal := root.GenerateLegalMoves()
			if legal.Len() > 0 {
				best = legal.Get(0)
			}
		}
		if best == board.NoMove {
			fmt.Println("bestmove 0000")
			return
		}
		fmt.Printf("bestmove %s\n", best.String())
	}()
}

func (u *UCI) parseGoOptions(args []string) goOptions {
	var opts goOptions
	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "depth":
			if i+1 < len(args) {
				opts.Depth, _ = strconv.Atoi(args[i+1])
				i++
			}
		case "nodes":
			if i+1 < len(args) {
				opts.Nodes, _ = strconv.ParseUint(args[i+1], 10, 64)
				i++
			}
		case "movetime":
			if i+1 < len(args) {
				ms, _ := strconv.Atoi(args[i+1])
				opts.MoveTime = time.Duration(ms) * time.Millisecond
				i++
			}
		case "infinite":
			opts.Infinite = true
		case "ponder":
			opts.Ponder = true
		case "wtime":
			if i+1 < len(args) {
				ms, _ := strconv.Atoi(args[i+1])
				opts.WTime = time.Duration(ms) * time.Millisecond
				i++
			}
		case "btime":
			if i+1 < len(args) {
				ms, _ := strconv.Atoi(args[i+1])
				opts.BTime = time.Duration(ms) * time.Millisecond
				i++
			}
		case "winc":
			if i+1 < len(args) {
				ms, _ := strconv.Atoi(args[i+1])
				opts.WInc = time.Duration(ms) * time.Millisecond
				i++
			}
		case "binc":
			if i+1 < len(args) {
				ms, _ := strconv.Atoi(args[i+1])
				opts.BInc = time.Duration(ms) * time.Millisecond
				i++
			}
		case "movestogo":
			if i+1 < len(args) {
				opts.MovesToGo, _ = strconv.Atoi(args[i+1])
				i++
			}
		}
	}
	return opts
}

func (u *UCI) toSearchLimits(opts goOptions) search.Limits {
	return search.Limits{
		Depth:        opts.Depth,
		Nodes:        opts.Nodes,
		MoveTimeMS:   int(opts.MoveTime.Milliseconds()),
		WTimeMS:      int(opts.WTime.Milliseconds()),
		BTimeMS:      int(opts.BTime.Milliseconds()),
		WIncMS:       int(opts.WInc.Milliseconds()),
		BIncMS:       int(opts.BInc.Milliseconds()),
		MovesToGo:    opts.MovesToGo,
		MoveOverhead: 30,
		Infinite:     opts.Infinite,
		Ponder:       opts.Ponder,
	}
}

// sendInfo prints one "info" line per completed iterative-deepening depth.
func (u *UCI) sendInfo(info search.IterationInfo) {
	var parts []string
	parts = append(parts, fmt.Sprintf("depth %d", info.Depth))

	switch {
	case info.Score > search.MateScore-256:
		mateIn := (search.MateScore - info.Score + 1) / 2
		parts = append(parts, fmt.Sprintf("score mate %d", mateIn))
	case info.Score < -search.MateScore+256:
		mateIn := -(search.MateScore + info.Score + 1) / 2
		parts = append(parts, fmt.Sprintf("score mate %d", mateIn))
	default:
		parts = append(parts, fmt.Sprintf("score cp %d", info.Score))
	}

	parts = append(parts, fmt.Sprintf("nodes %d", info.Nodes))
	parts = append(parts, fmt.Sprintf("time %d", info.TimeMS))
	parts = append(parts, fmt.Sprintf("nps %d", info.NPS))
	if info.HashFull > 0 {
		parts = append(parts, fmt.Sprintf("hashfull %d", info.HashFull))
	}
	if len(info.PV) > 0 {
		strs := make([]string, len(info.PV))
		for i, m := range info.PV {
			strs[i] = m.String()
		}
		parts = append(parts, "pv "+strings.Join(strs, " "))
	}

	fmt.Printf("info %s\n", strings.Join(parts, " "))
}

func (u *UCI) handleStop() {
	if u.searching {
		u.stopRequested.Store(true)
		u.searcher.Stop()
		if u.cancel != nil {
			u.cancel()
		}
		<-u.searchDone
	}
}

func (u *UCI) handleQuit() {
	u.handleStop()
	if u.profileFile != nil {
		pprof.StopCPUProfile()
		u.profileFile.Close()
	}
	if u.nnEval != nil {
		u.nnEval.Close()
	}
	os.Exit(0)
}

func (u *UCI) handleSetOption(args []string) {
	var name, value string
	readingName, readingValue := false, false
	for _, arg := range args {
		switch arg {
		case "name":
			readingName, readingValue = true, false
		case "value":
			readingName, readingValue = false, true
		default:
			if readingName {
				if name != "" {
					name += " "
				}
				name += arg
			} else if readingValue {
				if value != "" {
					value += " "
				}
				value += arg
			}
		}
	}

	switch strings.ToLower(name) {
	case "hash":
		mb, err := strconv.Atoi(value)
		if err == nil && mb >= 1 {
			u.hashMB = mb
			u.searcher.SetHashSize(mb)
			u.log.V(1).Info("resized hash table", "size", humanize.Bytes(uint64(mb)*1024*1024))
		}
	case "usecorrectionhistory":
		u.cfg.UseCorrectionHistory = strings.ToLower(value) == "true"
		u.rebuildSearcher()
	case "evaluator":
		switch strings.ToLower(value) {
		case "nn":
			if u.nnEval != nil && u.nnEval.Ready() {
				u.evaluator = u.nnEval
				u.rebuildSearcher()
			} else {
				u.log.Info("cannot switch to NN evaluator: no weight file loaded via EvalFile")
			}
		case "hce", "":
			u.evaluator = u.hce
			u.rebuildSearcher()
		}
	case "evalfile":
		if value == "" || value == "<empty>" {
			return
		}
		if u.nnEval == nil {
			u.nnEval = nn.NewEvaluator(u.log)
		}
		if err := u.nnEval.LoadWeights(value, false); err != nil {
			u.log.Error(err, "failed to load NN weight file", "path", value)
			return
		}
		u.log.V(1).Info("loaded NN weight file", "path", value)
		u.evaluator = u.nnEval
		u.rebuildSearcher()
	case "evalcache":
		limit, err := strconv.ParseInt(value, 10, 64)
		if err == nil && u.nnEval != nil {
			u.nnEval.SetCacheLimit(limit)
		}
	case "moveoverhead":
		// the value is parsed and then discarded: toSearchLimits always
		// passes a 30 ms move overhead.
		_, _ = strconv.Atoi(value)
	case "cpuprofile":
		if u.profileFile != nil {
			pprof.StopCPUProfile()
			u.profileFile.Close()
			u.profileFile = nil
		}
		if value != "" && value != "stop" {
			f, err := os.Create(value)
			if err != nil {
				u.log.Error(err, "failed to create CPU profile", "path", value)
				return
			}
			if err := pprof.StartCPUProfile(f); err != nil {
				f.Close()
				u.log.Error(err, "failed to start CPU profile")
				return
			}
			u.profileFile = f
		}
	}
}

// handlePerft runs a perft node-count test at the given depth (default 5)
// from the current position.
func (u *UCI) handlePerft(args []string) {
	depth := 5
	if len(args) > 0 {
		depth, _ = strconv.Atoi(args[0])
	}

	start := time.Now()
	nodes := board.Perft(u.position, depth)
	elapsed := time.Since(start)

	fmt.Printf("Nodes: %s\n", humanize.Comma(int64(nodes)))
	fmt.Printf("Time: %v\n", elapsed)
	if elapsed > 0 {
		nps := float64(nodes) / elapsed.Seconds()
		fmt.Printf("NPS: %s\n", humanize.Comma(int64(nps)))
	}
}
