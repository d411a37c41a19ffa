package dataset

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tsawler/go-tipadapter/testutil"
)

func TestLabelFromAnswer(t *testing.T) {
	tests := []struct {
		answer string
		want   int
	}{
		{"yes", LabelYes},
		{"no", LabelNo},
		{"yes, it is", LabelYes},
		{"no way", LabelNo},
		// "no" is checked first.
		{"yes and no", LabelNo},
		{"not sure, yes", LabelNo},
	}
	for _, tt := range tests {
		got, err := LabelFromAnswer(tt.answer)
		require.NoError(t, err, tt.answer)
		assert.Equal(t, tt.want, got, tt.answer)
	}

	_, err := LabelFromAnswer("maybe")
	assert.ErrorIs(t, err, ErrUnlabeled)
	_, err = LabelFromAnswer("YES")
	assert.ErrorIs(t, err, ErrUnlabeled, "matching is case-sensitive")
}

func TestParseRecord(t *testing.T) {
	rec, err := ParseRecord("1\timg1\tis it red?\tyes\tQUJD\n")
	require.NoError(t, err)
	assert.Equal(t, "is it red?", rec.Question)
	assert.Equal(t, "yes", rec.Answer)
	assert.Equal(t, "QUJD", rec.Image)
	assert.Equal(t, LabelYes, rec.Label)

	_, err = ParseRecord("1\timg1\tis it red?\tyes")
	assert.ErrorIs(t, err, ErrMalformedRecord)

	_, err = ParseRecord("1\timg1\tis it red?\tblue\tQUJD")
	assert.ErrorIs(t, err, ErrUnlabeled)
}

func TestLoadSplits(t *testing.T) {
	dir := t.TempDir()
	pattern := testutil.WriteSplits(t, dir, 6, 4)

	train, val, err := LoadSplits(pattern)
	require.NoError(t, err)
	assert.Equal(t, 6, train.Len())
	assert.Equal(t, 4, val.Len())
	assert.Equal(t, "train", train.Name())

	rec, err := train.Get(1)
	require.NoError(t, err)
	assert.Equal(t, LabelNo, rec.Label)

	_, err = train.Get(6)
	assert.Error(t, err)
}

func TestLoadSplitsMissingFile(t *testing.T) {
	dir := t.TempDir()
	pattern := testutil.WriteSplits(t, dir, 2, 2)
	require.NoError(t, os.Remove(filepath.Join(dir, "vqa_val.tsv")))

	_, _, err := LoadSplits(pattern)
	require.Error(t, err)
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestSplitPath(t *testing.T) {
	p, err := SplitPath("/data/%s.tsv", "val")
	require.NoError(t, err)
	assert.Equal(t, "/data/val.tsv", p)

	_, err = SplitPath("/data/train.tsv", "val")
	assert.ErrorIs(t, err, ErrNoPlaceholder)
}

func TestHead(t *testing.T) {
	d := NewVQADataset("train", []string{"a", "b", "c"})
	assert.Equal(t, 2, d.Head(2).Len())
	assert.Equal(t, 3, d.Head(10).Len())
	assert.Equal(t, "a", d.Head(2).Line(0))
}
