package diagnostics

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/takeoff/internal/model"
)

func result(idx int, mk model.MeasureKind, expected, computed *float64) model.MatchResult {
	return model.MatchResult{
		ID:          "r" + string(rune('0'+idx)),
		RunID:       "run1",
		RowIndex:    idx,
		Description: "row",
		RowType:     model.RowItem,
		MeasureKind: mk,
		ExpectedQty: expected,
		QtyFinal:    computed,
		Status:      model.StatusPending,
	}
}

func TestBuild_RanksByAbsoluteError(t *testing.T) {
	rep := Build([]model.MatchResult{
		result(1, model.MeasureLength, model.Float(100), model.Float(110)),
		result(2, model.MeasureArea, model.Float(10), model.Float(40)),
		result(3, model.MeasureCount, model.Float(4), model.Float(4)),
	}, DefaultThresholds())

	require.Len(t, rep.Errors, 3)
	assert.Equal(t, []int{2, 1, 3}, []int{rep.Errors[0].RowIndex, rep.Errors[1].RowIndex, rep.Errors[2].RowIndex})
	assert.InDelta(t, 30, rep.Errors[0].AbsError, 1e-9)
	require.NotNil(t, rep.Errors[0].PctError)
	assert.InDelta(t, 300, *rep.Errors[0].PctError, 1e-9)

	s := rep.Summary
	assert.Equal(t, 3, s.Rows)
	assert.Equal(t, 3, s.Compared)
	assert.InDelta(t, 40.0/3, s.AvgAbsError, 1e-9)
	assert.InDelta(t, (10.0+300+0)/3, s.AvgPctError, 1e-9)
	assert.Equal(t, 1, s.LargeErrors)
	assert.Equal(t, "run1", rep.RunID)
}

func TestBuild_NullIsNotZero(t *testing.T) {
	rep := Build([]model.MatchResult{
		result(1, model.MeasureLength, model.Float(10), nil),
		result(2, model.MeasureLength, model.Float(10), model.Float(0)),
	}, DefaultThresholds())

	assert.Equal(t, 1, rep.Summary.NoComputed)
	require.Len(t, rep.Errors, 1)
	assert.Equal(t, 2, rep.Errors[0].RowIndex)
	assert.InDelta(t, 10, rep.Summary.AvgAbsError, 1e-9)
}

func TestBuild_ZeroExpected(t *testing.T) {
	rep := Build([]model.MatchResult{
		result(1, model.MeasureLength, model.Float(0), model.Float(3)),
	}, DefaultThresholds())

	require.Len(t, rep.Errors, 1)
	assert.Nil(t, rep.Errors[0].PctError)
	assert.Zero(t, rep.Summary.AvgPctError)
	assert.Zero(t, rep.Summary.LargeErrors)
}

func TestBuild_Outliers(t *testing.T) {
	rep := Build([]model.MatchResult{
		result(1, model.MeasureArea, nil, model.Float(51)),
		result(2, model.MeasureArea, nil, model.Float(50)),
		result(3, model.MeasureLength, nil, model.Float(21)),
		result(4, model.MeasureCount, nil, model.Float(6)),
		result(5, model.MeasureVolume, nil, model.Float(1000)),
		result(6, model.MeasureLength, nil, nil),
	}, Thresholds{})

	assert.Equal(t, 6, rep.Summary.NoExpected)
	assert.Equal(t, 1, rep.Summary.NoComputed)
	require.Len(t, rep.Outliers, 3)
	assert.Equal(t, 1, rep.Outliers[0].RowIndex)
	assert.Equal(t, 3, rep.Outliers[1].RowIndex)
	assert.Equal(t, 4, rep.Outliers[2].RowIndex)
	assert.Empty(t, rep.Errors)
}

func TestBuild_Suspects(t *testing.T) {
	text := result(1, model.MeasureArea, nil, model.Float(1))
	text.EvidenceKind = model.KindText
	block := result(2, model.MeasureArea, nil, model.Float(3))
	block.EvidenceKind = model.KindBlock
	ok := result(3, model.MeasureArea, nil, model.Float(3))
	ok.EvidenceKind = model.KindLength
	count := result(4, model.MeasureCount, nil, model.Float(3))
	count.EvidenceKind = model.KindBlock

	rep := Build([]model.MatchResult{text, block, ok, count}, DefaultThresholds())
	require.Len(t, rep.Suspects, 2)
	assert.Equal(t, model.KindText, rep.Suspects[0].EvidenceKind)
	assert.Equal(t, model.KindBlock, rep.Suspects[1].EvidenceKind)
	assert.Equal(t, 2, rep.Summary.Suspects)
}

func TestBuild_SkipsHeadersAndNotes(t *testing.T) {
	header := result(1, model.MeasureUnknown, nil, nil)
	header.RowType = model.RowHeader
	header.Status = model.StatusTitle
	note := result(2, model.MeasureUnknown, nil, nil)
	note.Status = model.StatusIgnored

	rep := Build([]model.MatchResult{header, note}, DefaultThresholds())
	assert.Zero(t, rep.Summary.Rows)
	assert.Zero(t, rep.Summary.NoComputed)
	assert.NotNil(t, rep.Errors)
	assert.NotNil(t, rep.Outliers)
	assert.NotNil(t, rep.Suspects)
}
