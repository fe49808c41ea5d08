package harness

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/timzifer/stringqueue"
	"github.com/timzifer/stringqueue/internal/alloc"
	"github.com/timzifer/stringqueue/internal/config"
	"github.com/timzifer/stringqueue/memcheck"
)

// fillByte pre-fills the removal buffer so that writes past the terminator
// can be detected.
const fillByte = 'X'

// MaxLineLength is the longest command line Run accepts.
const MaxLineLength = 16 << 20

type command struct {
	usage   string
	minArgs int
	maxArgs int
	run     func(it *Interpreter, args []string)
}

var commands map[string]command

func init() {
	commands = map[string]command{
		"new":     {usage: "new", run: (*Interpreter).doNew},
		"free":    {usage: "free", run: (*Interpreter).doFree},
		"ih":      {usage: "ih str [n]", minArgs: 1, maxArgs: 2, run: (*Interpreter).doInsertHead},
		"it":      {usage: "it str [n]", minArgs: 1, maxArgs: 2, run: (*Interpreter).doInsertTail},
		"rh":      {usage: "rh [str]", maxArgs: 1, run: (*Interpreter).doRemoveHead},
		"rhq":     {usage: "rhq", run: (*Interpreter).doRemoveHeadQuiet},
		"size":    {usage: "size [n]", maxArgs: 1, run: (*Interpreter).doSize},
		"reverse": {usage: "reverse", run: (*Interpreter).doReverse},
		"show":    {usage: "show", run: (*Interpreter).doShow},
		"option":  {usage: "option [fail P | length L]", maxArgs: 2, run: (*Interpreter).doOption},
		"help":    {usage: "help", run: (*Interpreter).doHelp},
	}
}

// Interpreter drives a single queue from text commands and checks every
// result against a shadow model of the expected contents.
type Interpreter struct {
	logger  *logrus.Logger
	out     io.Writer
	tracker *memcheck.Tracker
	queue   *stringqueue.Queue
	model   []string
	bufLen  int
	errs    int
}

// New creates an interpreter writing command output to out.
func New(logger *logrus.Logger, out io.Writer, cfg config.Harness) *Interpreter {
	bufLen := cfg.BufferLength
	if bufLen < 1 {
		bufLen = config.DefaultBufferLength
	}

	tracker := memcheck.NewTracker(
		memcheck.WithSeed(cfg.Seed),
		memcheck.WithFailRate(cfg.FailPercent),
	)

	return &Interpreter{
		logger:  logger,
		out:     out,
		tracker: tracker,
		bufLen:  bufLen,
	}
}

// Errors returns the number of failed checks so far.
func (it *Interpreter) Errors() int {
	return it.errs
}

// Tracker exposes the allocation tracker backing every queue the
// interpreter creates.
func (it *Interpreter) Tracker() *memcheck.Tracker {
	return it.tracker
}

// Run executes commands from r until EOF, a quit command or cancellation of
// ctx. The remaining queue is freed on every exit path, including read errors.
// It returns the number of failed checks.
func (it *Interpreter) Run(ctx context.Context, r io.Reader) (errs int, err error) {
	defer func() {
		if it.queue != nil {
			it.logger.Debug("freeing queue left at exit")
			it.doFree(nil)
		}
		errs = it.errs
	}()

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, bufio.MaxScanTokenSize), MaxLineLength)
	lineNo := 0
	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return it.errs, errors.Wrap(err, "harness : interrupted")
		}
		lineNo++
		if quit := it.Exec(scanner.Text()); quit {
			break
		}
	}
	if err := scanner.Err(); err != nil {
		return it.errs, errors.Wrapf(err, "harness : failed to read line %d", lineNo+1)
	}
	return it.errs, nil
}

// Exec runs a single command line and reports whether it asked to quit.
// Empty lines and lines starting with '#' are ignored.
func (it *Interpreter) Exec(line string) bool {
	fields := strings.Fields(line)
	if len(fields) == 0 || strings.HasPrefix(fields[0], "#") {
		return false
	}

	name, args := fields[0], fields[1:]
	if name == "quit" {
		return true
	}

	cmd, ok := commands[name]
	if !ok {
		it.fail(name, "unknown command %q", name)
		return false
	}
	if len(args) < cmd.minArgs || len(args) > cmd.maxArgs {
		it.fail(name, "usage: %s", cmd.usage)
		return false
	}

	it.logger.WithField("cmd", name).Debugf("args %v", args)
	cmd.run(it, args)
	it.checkSize(name)
	return false
}

func (it *Interpreter) fail(cmd, format string, args ...any) {
	it.errs++
	it.logger.WithField("cmd", cmd).Errorf(format, args...)
}

func (it *Interpreter) checkSize(cmd string) {
	if got, want := it.queue.Size(), len(it.model); got != want {
		it.fail(cmd, "queue size is %d, expected %d", got, want)
	}
}

func (it *Interpreter) checkLeaks(cmd string) {
	if err := it.tracker.Leaks(); err != nil {
		it.fail(cmd, "%v", err)
	}
}

func (it *Interpreter) doNew(_ []string) {
	if it.queue != nil {
		it.doFree(nil)
	}

	q, err := stringqueue.New(stringqueue.WithAllocator(it.tracker))
	if err != nil {
		if errors.Is(err, stringqueue.ErrAllocationFailed) {
			it.logger.WithField("cmd", "new").Warn("allocation failed, queue is nil")
			return
		}
		it.fail("new", "%v", err)
		return
	}

	it.queue = q
	it.model = nil
	fmt.Fprintln(it.out, "q = []")
}

func (it *Interpreter) doFree(_ []string) {
	if it.queue == nil {
		it.logger.WithField("cmd", "free").Warn("calling free on null queue")
	}
	it.queue.Free()
	it.queue = nil
	it.model = nil
	it.checkLeaks("free")
}

func (it *Interpreter) insert(cmd string, args []string, atHead bool) {
	value := args[0]
	reps := 1
	if len(args) == 2 {
		n, err := strconv.Atoi(args[1])
		if err != nil || n < 1 {
			it.fail(cmd, "invalid repeat count %q", args[1])
			return
		}
		reps = n
	}

	insert := it.queue.InsertTail
	if atHead {
		insert = it.queue.InsertHead
	}

	for i := 0; i < reps; i++ {
		before := it.queue.Size()
		err := insert(value)
		switch {
		case err == nil && it.queue == nil:
			it.fail(cmd, "insertion into null queue succeeded")
			return
		case err == nil:
			if atHead {
				it.model = append([]string{value}, it.model...)
			} else {
				it.model = append(it.model, value)
			}
		case it.queue == nil && errors.Is(err, stringqueue.ErrInvalidArgument):
			it.logger.WithField("cmd", cmd).Warn("insertion into null queue rejected")
			return
		case errors.Is(err, stringqueue.ErrAllocationFailed):
			it.logger.WithField("cmd", cmd).Warnf("allocation failed: %v", err)
			if after := it.queue.Size(); after != before {
				it.fail(cmd, "failed insertion changed size from %d to %d", before, after)
			}
		default:
			it.fail(cmd, "%v", err)
			return
		}
	}
	it.show()
}

func (it *Interpreter) doInsertHead(args []string) {
	it.insert("ih", args, true)
}

func (it *Interpreter) doInsertTail(args []string) {
	it.insert("it", args, false)
}

func (it *Interpreter) remove(cmd string, expected *string, quiet bool) {
	buf := make([]byte, it.bufLen+1)
	for i := range buf {
		buf[i] = fillByte
	}

	n, err := it.queue.RemoveHead(buf[:it.bufLen])
	if len(it.model) == 0 {
		if err == nil {
			it.fail(cmd, "removal from empty or null queue succeeded")
			return
		}
		for i, b := range buf {
			if b != fillByte {
				it.fail(cmd, "failed removal wrote byte %d", i)
				return
			}
		}
		it.logger.WithField("cmd", cmd).Warn("removal from empty or null queue rejected")
		return
	}
	if err != nil {
		it.fail(cmd, "%v", err)
		return
	}

	want := truncate(it.model[0], it.bufLen-1)
	it.model = it.model[1:]

	got := string(buf[:n])
	if buf[n] != 0 {
		it.fail(cmd, "removed value is not terminated")
	}
	if buf[it.bufLen] != fillByte {
		it.fail(cmd, "removal wrote past the buffer")
	}
	if got != want {
		it.fail(cmd, "removed %q, expected %q", got, want)
	}
	if expected != nil {
		if exp := truncate(*expected, it.bufLen-1); got != exp {
			it.fail(cmd, "removed %q, expected %q", got, exp)
		}
	}

	if !quiet {
		fmt.Fprintf(it.out, "Removed %s from queue\n", got)
		it.show()
	}
}

func (it *Interpreter) doRemoveHead(args []string) {
	if len(args) == 1 {
		it.remove("rh", &args[0], false)
		return
	}
	it.remove("rh", nil, false)
}

func (it *Interpreter) doRemoveHeadQuiet(_ []string) {
	it.remove("rhq", nil, true)
}

func (it *Interpreter) doSize(args []string) {
	size := it.queue.Size()
	if len(args) == 1 {
		want, err := strconv.Atoi(args[0])
		if err != nil {
			it.fail("size", "invalid size %q", args[0])
			return
		}
		if size != want {
			it.fail("size", "queue size is %d, expected %d", size, want)
		}
	}
	fmt.Fprintf(it.out, "Queue size = %d\n", size)
}

func (it *Interpreter) doReverse(_ []string) {
	allocs := it.tracker.Stats(alloc.KindNode)
	it.queue.Reverse()
	if it.tracker.Stats(alloc.KindNode) != allocs {
		it.fail("reverse", "reverse allocated or released nodes")
	}

	for l, r := 0, len(it.model)-1; l < r; l, r = l+1, r-1 {
		it.model[l], it.model[r] = it.model[r], it.model[l]
	}
	it.show()
}

func (it *Interpreter) doShow(_ []string) {
	it.show()
}

func (it *Interpreter) show() {
	if it.queue == nil {
		fmt.Fprintln(it.out, "q = NULL")
		return
	}
	fmt.Fprintf(it.out, "q = [%s]\n", strings.Join(it.model, " "))
}

func (it *Interpreter) doOption(args []string) {
	if len(args) == 0 {
		fmt.Fprintf(it.out, "fail = %d\nlength = %d\n", it.tracker.FailRate(), it.bufLen)
		return
	}
	if len(args) != 2 {
		it.fail("option", "usage: %s", commands["option"].usage)
		return
	}

	value, err := strconv.Atoi(args[1])
	if err != nil {
		it.fail("option", "invalid value %q", args[1])
		return
	}

	switch args[0] {
	case "fail":
		if value < 0 || value > 100 {
			it.fail("option", "fail percent %d out of range [0, 100]", value)
			return
		}
		it.tracker.SetFailRate(value)
	case "length":
		if value < 1 {
			it.fail("option", "length %d must be positive", value)
			return
		}
		it.bufLen = value
	default:
		it.fail("option", "unknown option %q", args[0])
	}
}

func (it *Interpreter) doHelp(_ []string) {
	names := make([]string, 0, len(commands))
	for name := range commands {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		fmt.Fprintf(it.out, "  %s\n", commands[name].usage)
	}
	fmt.Fprintln(it.out, "  quit")
}

func truncate(s string, n int) string {
	if len(s) > n {
		return s[:n]
	}
	return s
}
