package tree

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// Transcript grammar violations. They are wrapped in a *FormatError.
var (
	ErrUnknownCommand   = errors.New("unknown command")
	ErrBadOperands      = errors.New("wrong number of operands")
	ErrBadSize          = errors.New("invalid file size")
	ErrUnexpectedOutput = errors.New("output line outside of an ls listing")
	ErrLineTooLong      = errors.New("line too long")
)

const maxLineLength = 1 << 20

// FormatError reports a transcript line that does not fit the grammar. A
// transcript that yields one is rejected as a whole.
type FormatError struct {
	Line int    // 1-based
	Text string // raw line
	Err  error
}

func (e *FormatError) Error() string {
	return fmt.Sprintf("transcript line %d %q: %v", e.Line, e.Text, e.Err)
}

func (e *FormatError) Unwrap() error {
	return e.Err
}

// Parse consumes a transcript in a single forward pass and returns the
// resulting tree. No tree is returned when any line is malformed.
func Parse(r io.Reader) (*Tree, error) {
	b := NewBuilder()
	listing := false

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineLength)

	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := scanner.Text()

		var err error
		listing, err = parseLine(b, line, listing)
		if err != nil {
			return nil, &FormatError{Line: lineNo, Text: line, Err: err}
		}
	}
	if err := scanner.Err(); err != nil {
		if errors.Is(err, bufio.ErrTooLong) {
			return nil, &FormatError{Line: lineNo + 1, Err: ErrLineTooLong}
		}
		return nil, fmt.Errorf("read transcript: %w", err)
	}

	return b.Build(), nil
}

// ParseString is Parse over an in-memory transcript.
func ParseString(s string) (*Tree, error) {
	return Parse(strings.NewReader(s))
}

// parseLine applies one line to the builder and returns the new value of the
// "inside an ls listing" flag.
func parseLine(b *Builder, line string, listing bool) (bool, error) {
	line = strings.TrimSuffix(line, "\r")
	if line == "" {
		if listing {
			return listing, ErrBadOperands
		}
		return listing, ErrUnexpectedOutput
	}

	// Fields are separated by exactly one space. Other whitespace, tabs and
	// non-breaking spaces included, belongs to the name.
	fields := strings.Split(line, " ")
	for _, f := range fields {
		if f == "" {
			return listing, ErrBadOperands
		}
	}

	if fields[0] == "$" {
		if len(fields) < 2 {
			return false, ErrBadOperands
		}
		switch fields[1] {
		case "cd":
			if len(fields) != 3 {
				return false, ErrBadOperands
			}
			return false, b.ChangeDirectory(fields[2])
		case "ls":
			if len(fields) != 2 {
				return false, ErrBadOperands
			}
			return true, nil
		default:
			return false, fmt.Errorf("%w: %s", ErrUnknownCommand, fields[1])
		}
	}

	if !listing {
		return false, ErrUnexpectedOutput
	}
	if len(fields) != 2 {
		return true, ErrBadOperands
	}

	if fields[0] == "dir" {
		return true, b.AddDirectory(fields[1])
	}

	size, err := strconv.ParseUint(fields[0], 10, 64)
	if err != nil {
		return true, fmt.Errorf("%w: %s", ErrBadSize, fields[0])
	}
	return true, b.AddFile(fields[1], size)
}
