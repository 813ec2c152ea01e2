package lsp

import "testing"

func TestComputeChange(t *testing.T) {
	tests := []struct {
		name      string
		oldText   string
		newText   string
		wantStart Position
		wantEnd   Position
		wantText  string
	}{
		{
			name:      "append at end of line",
			oldText:   "void setup() {}",
			newText:   "void setup() {}\nvoid loop() {}",
			wantStart: Position{Line: 0, Character: 15},
			wantEnd:   Position{Line: 0, Character: 15},
			wantText:  "\nvoid loop() {}",
		},
		{
			name:      "insert in middle",
			oldText:   "abc",
			newText:   "abXc",
			wantStart: Position{Line: 0, Character: 2},
			wantEnd:   Position{Line: 0, Character: 2},
			wantText:  "X",
		},
		{
			name:      "delete in middle",
			oldText:   "abXc",
			newText:   "abc",
			wantStart: Position{Line: 0, Character: 2},
			wantEnd:   Position{Line: 0, Character: 3},
			wantText:  "",
		},
		{
			name:      "replace range",
			oldText:   "hello world",
			newText:   "hello there",
			wantStart: Position{Line: 0, Character: 6},
			wantEnd:   Position{Line: 0, Character: 11},
			wantText:  "there",
		},
		{
			name:      "prefix of old is new",
			oldText:   "abcdef",
			newText:   "abc",
			wantStart: Position{Line: 0, Character: 3},
			wantEnd:   Position{Line: 0, Character: 6},
			wantText:  "",
		},
		{
			name:      "old is prefix of new",
			oldText:   "abc",
			newText:   "abcdef",
			wantStart: Position{Line: 0, Character: 3},
			wantEnd:   Position{Line: 0, Character: 3},
			wantText:  "def",
		},
		{
			name:      "change on later line",
			oldText:   "line one\nline two\nline three",
			newText:   "line one\nline 2\nline three",
			wantStart: Position{Line: 1, Character: 5},
			wantEnd:   Position{Line: 1, Character: 8},
			wantText:  "2",
		},
		{
			name:      "delete entire content",
			oldText:   "everything",
			newText:   "",
			wantStart: Position{Line: 0, Character: 0},
			wantEnd:   Position{Line: 0, Character: 10},
			wantText:  "",
		},
		{
			name:      "insert into empty document",
			oldText:   "",
			newText:   "int x;",
			wantStart: Position{Line: 0, Character: 0},
			wantEnd:   Position{Line: 0, Character: 0},
			wantText:  "int x;",
		},
		{
			name:    "repeated characters do not let cursors cross",
			oldText: "aaaa",
			newText: "aaaaaa",
			// Prefix claims all four bytes of old; the bounded suffix
			// must then claim nothing.
			wantStart: Position{Line: 0, Character: 4},
			wantEnd:   Position{Line: 0, Character: 4},
			wantText:  "aa",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			change, ok := computeChange(tt.oldText, tt.newText)
			if !ok {
				t.Fatal("computeChange() reported no change")
			}
			if change.Range == nil {
				t.Fatal("computeChange() returned nil range")
			}
			if change.Range.Start != tt.wantStart {
				t.Errorf("start = %+v, want %+v", change.Range.Start, tt.wantStart)
			}
			if change.Range.End != tt.wantEnd {
				t.Errorf("end = %+v, want %+v", change.Range.End, tt.wantEnd)
			}
			if change.Text != tt.wantText {
				t.Errorf("text = %q, want %q", change.Text, tt.wantText)
			}

			if got := applyChange(tt.oldText, change); got != tt.newText {
				t.Errorf("applying change to old text gives %q, want %q", got, tt.newText)
			}
		})
	}
}

func TestComputeChange_EqualContent(t *testing.T) {
	for _, text := range []string{"", "same", "multi\nline\ncontent"} {
		if _, ok := computeChange(text, text); ok {
			t.Errorf("computeChange(%q, %q) reported a change for equal content", text, text)
		}
	}
}

func TestComputeChange_RoundTripsArbitraryEdits(t *testing.T) {
	// Pairs chosen to stress boundary handling rather than any one
	// expected range.
	pairs := [][2]string{
		{"void loop() {\n}\n", "void loop() {\n  delay(100);\n}\n"},
		{"aaa\nbbb\nccc", "aaa\nccc"},
		{"x", "y"},
		{"", "a"},
		{"a", ""},
		{"héllo wörld", "héllo wørld"},
		{"日本語のテキスト", "日本語の長いテキスト"},
		{"emoji 👍 here", "emoji 👎 here"},
		{"tab\tseparated", "tab  separated"},
	}

	for _, pair := range pairs {
		change, ok := computeChange(pair[0], pair[1])
		if !ok {
			t.Errorf("computeChange(%q, %q) reported no change", pair[0], pair[1])
			continue
		}
		if got := applyChange(pair[0], change); got != pair[1] {
			t.Errorf("round trip %q -> %q produced %q", pair[0], pair[1], got)
		}
	}
}

func TestComputeChange_MultiByteBoundaries(t *testing.T) {
	// Editing inside runs of multi-byte runes must never produce a range
	// that splits a character.
	change, ok := computeChange("ααα", "αβα")
	if !ok {
		t.Fatal("computeChange() reported no change")
	}
	if got := applyChange("ααα", change); got != "αβα" {
		t.Errorf("round trip produced %q, want %q", got, "αβα")
	}
	// α is one UTF-16 unit; the replaced middle rune starts at unit 1.
	if change.Range.Start.Character != 1 {
		t.Errorf("start character = %d, want 1", change.Range.Start.Character)
	}
}

func TestOffsetToPosition_UTF16(t *testing.T) {
	tests := []struct {
		name   string
		text   string
		offset int
		want   Position
	}{
		{"ascii start", "hello", 0, Position{0, 0}},
		{"ascii middle", "hello", 3, Position{0, 3}},
		{"second line", "ab\ncd", 4, Position{1, 1}},
		{"after newline", "ab\ncd", 3, Position{1, 0}},
		// é is 2 bytes but 1 UTF-16 unit.
		{"two-byte rune", "héllo", 3, Position{0, 2}},
		// 👍 is 4 bytes and 2 UTF-16 units.
		{"surrogate pair", "a👍b", 5, Position{0, 3}},
		{"offset past end clamps", "ab", 99, Position{0, 2}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := offsetToPosition(tt.text, tt.offset); got != tt.want {
				t.Errorf("offsetToPosition(%q, %d) = %+v, want %+v", tt.text, tt.offset, got, tt.want)
			}
		})
	}
}

func TestPositionToOffset(t *testing.T) {
	tests := []struct {
		name string
		text string
		pos  Position
		want int
	}{
		{"origin", "hello", Position{0, 0}, 0},
		{"mid line", "hello", Position{0, 3}, 3},
		{"line two", "ab\ncd", Position{1, 1}, 4},
		{"character past line end clamps", "ab\ncd", Position{0, 99}, 2},
		{"line past end clamps", "ab", Position{5, 0}, 2},
		{"surrogate pair counts two units", "a👍b", Position{0, 3}, 5},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := positionToOffset(tt.text, tt.pos); got != tt.want {
				t.Errorf("positionToOffset(%q, %+v) = %d, want %d", tt.text, tt.pos, got, tt.want)
			}
		})
	}
}
