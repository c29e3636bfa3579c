package fetcher

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadCSV_Basic(t *testing.T) {
	input := "item,descripcion,unidad\n1,Muro,m2\n2,Canaleta,ml\n"
	rows, err := ReadCSV(context.Background(), strings.NewReader(input), CSVOptions{})
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, []string{"item", "descripcion", "unidad"}, rows[0])
	assert.Equal(t, []string{"2", "Canaleta", "ml"}, rows[2])
}

func TestReadCSV_SniffDelimiter(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  []string
	}{
		{"semicolon", "item;descripcion;cantidad\n1;Muro;1.234,5\n", []string{"1", "Muro", "1.234,5"}},
		{"tab", "item\tdescripcion\tcantidad\n1\tMuro\t12\n", []string{"1", "Muro", "12"}},
		{"comma with quoted decimal", "item,descripcion,cantidad\n1,Muro,\"1,5\"\n", []string{"1", "Muro", "1,5"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rows, err := ReadCSV(context.Background(), strings.NewReader(tt.input), CSVOptions{})
			require.NoError(t, err)
			require.Len(t, rows, 2)
			assert.Equal(t, tt.want, rows[1])
		})
	}
}

func TestReadCSV_ExplicitDelimiter(t *testing.T) {
	rows, err := ReadCSV(context.Background(), strings.NewReader("a|b\n1|2\n"), CSVOptions{Delimiter: '|'})
	require.NoError(t, err)
	assert.Equal(t, [][]string{{"a", "b"}, {"1", "2"}}, rows)
}

func TestReadCSV_BOMAndTrim(t *testing.T) {
	input := "\xEF\xBB\xBFitem , unidad\n 1 , m2 \n"
	rows, err := ReadCSV(context.Background(), strings.NewReader(input), CSVOptions{TrimSpace: true})
	require.NoError(t, err)
	assert.Equal(t, [][]string{{"item", "unidad"}, {"1", "m2"}}, rows)
}

func TestReadCSV_RaggedRows(t *testing.T) {
	rows, err := ReadCSV(context.Background(), strings.NewReader("a,b,c\nOBRA GRUESA\n1,2\n"), CSVOptions{})
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, []string{"OBRA GRUESA"}, rows[1])
}

func TestReadCSV_Malformed(t *testing.T) {
	_, err := ReadCSV(context.Background(), strings.NewReader("a,\"b\n1,2\n"), CSVOptions{})
	assert.Error(t, err)
}

func TestStreamCSV_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	rowCh, errCh := StreamCSV(ctx, strings.NewReader("a,b\n1,2\n"), CSVOptions{})
	for range rowCh {
	}
	err := <-errCh
	require.Error(t, err)
	assert.Contains(t, err.Error(), "context cancelled")
}
