package dataset

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"strings"
)

// Field positions in a tab-separated record.
const (
	FieldQuestion = 2
	FieldAnswer   = 3
	FieldImage    = 4
)

const (
	LabelNo  = 0
	LabelYes = 1

	NumClasses = 2
)

// maxLineSize bounds a single record; lines carry whole base64 images.
const maxLineSize = 64 << 20

var (
	ErrNoPlaceholder   = errors.New("data path pattern has no %s placeholder")
	ErrMalformedRecord = errors.New("malformed record")
	ErrUnlabeled       = errors.New("answer contains neither \"yes\" nor \"no\"")
)

// Record is one parsed question/answer/image example. Image still holds the
// base64 payload; decoding happens in the data loader.
type Record struct {
	Question string
	Answer   string
	Image    string
	Label    int
}

// LabelFromAnswer maps an answer to a class by substring match. "no" is
// tested before "yes", so an answer containing both (or words such as
// "not" or "know") is labelled no. Answers with neither return ErrUnlabeled.
func LabelFromAnswer(answer string) (int, error) {
	switch {
	case strings.Contains(answer, "no"):
		return LabelNo, nil
	case strings.Contains(answer, "yes"):
		return LabelYes, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnlabeled, answer)
	}
}

// ParseRecord splits a raw line into its fields and derives the label.
func ParseRecord(line string) (Record, error) {
	fields := strings.Split(strings.TrimRight(line, "\r\n"), "\t")
	if len(fields) <= FieldImage {
		return Record{}, fmt.Errorf("%w: expected at least %d tab-separated fields, got %d",
			ErrMalformedRecord, FieldImage+1, len(fields))
	}

	label, err := LabelFromAnswer(fields[FieldAnswer])
	if err != nil {
		return Record{}, err
	}

	return Record{
		Question: fields[FieldQuestion],
		Answer:   fields[FieldAnswer],
		Image:    fields[FieldImage],
		Label:    label,
	}, nil
}

// VQADataset is an ordered list of raw record lines. Lines are parsed on
// access so a split can be truncated or shuffled without decoding images.
type VQADataset struct {
	name  string
	lines []string
}

// NewVQADataset wraps already-read lines.
func NewVQADataset(name string, lines []string) *VQADataset {
	return &VQADataset{name: name, lines: lines}
}

func (d *VQADataset) Name() string { return d.name }

func (d *VQADataset) Len() int { return len(d.lines) }

// Line returns the raw text of record i.
func (d *VQADataset) Line(i int) string { return d.lines[i] }

// Get parses record i.
func (d *VQADataset) Get(i int) (Record, error) {
	if i < 0 || i >= len(d.lines) {
		return Record{}, fmt.Errorf("index %d out of range [0, %d)", i, len(d.lines))
	}
	return ParseRecord(d.lines[i])
}

// Head returns a dataset holding the first n records (all of them when n
// exceeds the length).
func (d *VQADataset) Head(n int) *VQADataset {
	if n >= len(d.lines) || n < 0 {
		return d
	}
	return &VQADataset{name: d.name, lines: d.lines[:n]}
}

// SplitPath substitutes split into the first %s of pattern.
func SplitPath(pattern, split string) (string, error) {
	if !strings.Contains(pattern, "%s") {
		return "", fmt.Errorf("%w: %q", ErrNoPlaceholder, pattern)
	}
	return strings.Replace(pattern, "%s", split, 1), nil
}

// LoadSplits reads the "train" and "val" files selected by pattern.
func LoadSplits(pattern string) (train, val *VQADataset, err error) {
	train, err = LoadSplit(pattern, "train")
	if err != nil {
		return nil, nil, err
	}
	val, err = LoadSplit(pattern, "val")
	if err != nil {
		return nil, nil, err
	}
	return train, val, nil
}

// LoadSplit reads every line of one split file.
func LoadSplit(pattern, split string) (*VQADataset, error) {
	path, err := SplitPath(pattern, split)
	if err != nil {
		return nil, err
	}
	lines, err := ReadLines(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load %s split: %w", split, err)
	}
	return NewVQADataset(split, lines), nil
}

// ReadLines returns the non-empty lines of a text file.
func ReadLines(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var lines []string
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 1<<20), maxLineSize)
	for scanner.Scan() {
		line := scanner.Text()
		if strings.TrimSpace(line) == "" {
			continue
		}
		lines = append(lines, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	return lines, nil
}
