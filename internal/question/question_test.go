package question

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/soundstarrain/yuketang-assistant/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQuestionKey(t *testing.T) {
	tests := []struct {
		name string
		q    Question
		want types.Key
	}{
		{"explicit id", Question{ID: "q-17", Index: 3}, "q-17"},
		{"blank id falls back to index", Question{ID: "  ", Index: 3}, "3"},
		{"missing id", Question{Index: 0}, "0"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.q.Key())
		})
	}
}

func TestQuestionKind(t *testing.T) {
	tests := []struct {
		meta string
		want Kind
	}{
		{"1.多选题 (10分)", KindMultiple},
		{"2.单选题 (5分)", KindSingle},
		{"3.判断题 (2分)", KindTrueFalse},
		{"4.填空题", KindFillBlank},
		{"5.主观题 (20分)", KindSubjective},
		{"6.阅读理解", KindGeneric},
		{"", KindGeneric},
	}

	for _, tt := range tests {
		t.Run(tt.meta, func(t *testing.T) {
			assert.Equal(t, tt.want, Question{Meta: tt.meta}.Kind())
		})
	}
}

func TestDecode(t *testing.T) {
	input := `[
		{"id": "a", "index": 5, "meta": "1.单选题", "body": "1+1=?", "options": "A. 1\nB. 2"},
		{"meta": "2.判断题", "body": "地球是圆的"},
		{"index": 0, "body": "zero index kept"}
	]`

	questions, err := Decode(strings.NewReader(input))
	require.NoError(t, err)
	require.Len(t, questions, 3)

	assert.Equal(t, types.Key("a"), questions[0].Key())
	assert.Equal(t, 5, questions[0].Index)
	assert.Equal(t, "A. 1\nB. 2", questions[0].Options)

	assert.Equal(t, 1, questions[1].Index, "missing index defaults to array position")
	assert.Equal(t, types.Key("1"), questions[1].Key())

	assert.Equal(t, 0, questions[2].Index, "explicit zero index is preserved")
}

func TestDecode_Errors(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr error
		wantMsg string
	}{
		{name: "empty array", input: `[]`, wantErr: ErrEmptyQuestionSet},
		{name: "invalid json", input: `{"broken`, wantMsg: "failed to parse questions"},
		{name: "bad item", input: `[{"index": "one"}]`, wantMsg: "failed to parse question 0"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode(strings.NewReader(tt.input))
			require.Error(t, err)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			}
			if tt.wantMsg != "" {
				assert.Contains(t, err.Error(), tt.wantMsg)
			}
		})
	}
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "questions.json")
	require.NoError(t, os.WriteFile(path, []byte(`[{"id":"x","body":"b"}]`), 0644))

	questions, err := LoadFile(path)
	require.NoError(t, err)
	require.Len(t, questions, 1)
	assert.Equal(t, "b", questions[0].Body)

	_, err = LoadFile(filepath.Join(t.TempDir(), "missing.json"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read question file")
}

func TestJobs(t *testing.T) {
	questions := []Question{{ID: "a"}, {Index: 1}, {ID: "c", Index: 2}}

	jobs := Jobs(questions)

	require.Len(t, jobs, 3)
	assert.Equal(t, types.Key("a"), jobs[0].Key)
	assert.Equal(t, types.Key("1"), jobs[1].Key)
	assert.Equal(t, types.Key("c"), jobs[2].Key)
	assert.Equal(t, questions[2], jobs[2].Payload)
}
