package duckdbsql

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLexer_Punctuation(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		wantType TokenType
		wantLit  string
	}{
		{"plus", "+", TOKEN_PLUS, "+"},
		{"minus", "-", TOKEN_MINUS, "-"},
		{"star", "*", TOKEN_STAR, "*"},
		{"slash", "/", TOKEN_SLASH, "/"},
		{"double_slash", "//", TOKEN_DSLASH, "//"},
		{"mod", "%", TOKEN_MOD, "%"},
		{"eq", "=", TOKEN_EQ, "="},
		{"dbleq", "==", TOKEN_DBLEQ, "=="},
		{"ne_bang", "!=", TOKEN_NE, "!="},
		{"ne_diamond", "<>", TOKEN_NE, "<>"},
		{"le", "<=", TOKEN_LE, "<="},
		{"ge", ">=", TOKEN_GE, ">="},
		{"semicolon", ";", TOKEN_SEMICOLON, ";"},
		{"dcolon", "::", TOKEN_DCOLON, "::"},
		{"dpipe", "||", TOKEN_DPIPE, "||"},
		{"qmark", "?", TOKEN_PARAM, "?"},
		{"dollar", "$1", TOKEN_PARAM, "$1"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			tok := NewLexer(tc.input).NextToken()
			assert.Equal(t, tc.wantType, tok.Type, "token type")
			assert.Equal(t, tc.wantLit, tok.Literal, "token literal")
		})
	}
}

func TestLexer_KeywordsAreCaseInsensitive(t *testing.T) {
	for _, in := range []string{"select", "SELECT", "SeLeCt"} {
		tok := NewLexer(in).NextToken()
		assert.Equal(t, TOKEN_SELECT, tok.Type, in)
		assert.Equal(t, in, tok.Literal, "literal keeps original case")
	}
}

func TestLexer_Spans(t *testing.T) {
	l := NewLexer("SELECT  abc, 'x''y' FROM t")
	var toks []Token
	for {
		tok := l.NextToken()
		toks = append(toks, tok)
		if tok.Type == TOKEN_EOF {
			break
		}
	}
	require.Len(t, toks, 7)

	assert.Equal(t, Token{Type: TOKEN_SELECT, Literal: "SELECT", Pos: 0, End: 6}, toks[0])
	assert.Equal(t, Token{Type: TOKEN_IDENT, Literal: "abc", Pos: 8, End: 11}, toks[1])
	assert.Equal(t, TOKEN_STRING, toks[3].Type)
	assert.Equal(t, "x'y", toks[3].Literal)
	assert.Equal(t, 13, toks[3].Pos)
	assert.Equal(t, 19, toks[3].End)
	assert.Equal(t, 26, toks[6].Pos, "EOF sits at end of input")
}

func TestLexer_QuotedIdentifier(t *testing.T) {
	tok := NewLexer(`"County ""Name"""`).NextToken()
	assert.Equal(t, TOKEN_IDENT, tok.Type)
	assert.True(t, tok.Quoted)
	assert.Equal(t, `County "Name"`, tok.Literal)
}

func TestLexer_SkipsComments(t *testing.T) {
	l := NewLexer("-- line\nSELECT /* block */ 1")
	assert.Equal(t, TOKEN_SELECT, l.NextToken().Type)
	assert.Equal(t, TOKEN_NUMBER, l.NextToken().Type)
	assert.Equal(t, TOKEN_EOF, l.NextToken().Type)
}

func TestLexer_Numbers(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"42", "42"},
		{"3.14", "3.14"},
		{"1e10", "1e10"},
		{"2.5E-3", "2.5E-3"},
		{"1_000", "1_000"},
	}
	for _, tc := range tests {
		tok := NewLexer(tc.input).NextToken()
		assert.Equal(t, TOKEN_NUMBER, tok.Type, tc.input)
		assert.Equal(t, tc.want, tok.Literal, tc.input)
	}
}

func TestFirstNonASCII(t *testing.T) {
	tests := []struct {
		name string
		sql  string
		want int
	}{
		{"plain", "SELECT county_name FROM t", -1},
		{"inside_string_allowed", "SELECT 'Zürich' FROM t", -1},
		{"cyrillic_a_in_identifier", "SELECT nаme FROM t", 8},
		{"quoted_identifier", `SELECT "n` + "ä" + `me" FROM t`, 9},
		{"fullwidth_letter_alone", "SELECT ａ FROM t", 7},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, FirstNonASCII(tc.sql))
		})
	}
}

func TestKeywordTable(t *testing.T) {
	t.Parallel()
	require.Len(t, keywordText, int(tokenKeywordEnd-TOKEN_ALL))
	for tt, want := range map[TokenType]string{
		TOKEN_ALL:      "ALL",
		TOKEN_PRAGMA:   "PRAGMA",
		TOKEN_SELECT:   "SELECT",
		TOKEN_TRY_CAST: "TRY_CAST",
		TOKEN_WITH:     "WITH",
		TOKEN_DCOLON:   "::",
	} {
		assert.Equal(t, want, tt.String())
	}
	assert.Equal(t, TOKEN_QUALIFY, keywords["qualify"])
	assert.False(t, TOKEN_IDENT.IsKeyword())
	assert.False(t, tokenKeywordEnd.IsKeyword())
}
