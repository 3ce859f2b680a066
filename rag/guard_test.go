package rag

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnforceBound(t *testing.T) {
	t.Run("appends limit when absent", func(t *testing.T) {
		out, err := EnforceBound("MATCH (c:Course) RETURN c.name", 5)
		require.NoError(t, err)
		assert.Equal(t, "MATCH (c:Course) RETURN c.name LIMIT 5", out)
	})

	t.Run("strips trailing semicolon before appending", func(t *testing.T) {
		out, err := EnforceBound("MATCH (c:Course) RETURN c.name;\n", 5)
		require.NoError(t, err)
		assert.Equal(t, "MATCH (c:Course) RETURN c.name LIMIT 5", out)
	})

	t.Run("keeps bound within the cap", func(t *testing.T) {
		out, err := EnforceBound("MATCH (c:Course) RETURN c.name LIMIT 3", 5)
		require.NoError(t, err)
		assert.Equal(t, "MATCH (c:Course) RETURN c.name LIMIT 3", out)
	})

	t.Run("rewrites oversized bound", func(t *testing.T) {
		out, err := EnforceBound("MATCH (c:Course) RETURN c.name LIMIT 500", 5)
		require.NoError(t, err)
		assert.Equal(t, "MATCH (c:Course) RETURN c.name LIMIT 5", out)
	})

	t.Run("rewrites every oversized clause", func(t *testing.T) {
		out, err := EnforceBound("MATCH (c:Course) WITH c LIMIT 100 RETURN c.name LIMIT 50", 5)
		require.NoError(t, err)
		assert.Equal(t, "MATCH (c:Course) WITH c LIMIT 5 RETURN c.name LIMIT 5", out)
	})

	t.Run("ignores limit keyword inside string literal", func(t *testing.T) {
		out, err := EnforceBound(`MATCH (c:Course {name: 'LIMIT 100'}) RETURN c`, 5)
		require.NoError(t, err)
		assert.Equal(t, `MATCH (c:Course {name: 'LIMIT 100'}) RETURN c LIMIT 5`, out)
	})

	t.Run("rejects empty query", func(t *testing.T) {
		_, err := EnforceBound("   ", 5)
		var malformed *MalformedQueryError
		require.ErrorAs(t, err, &malformed)
	})

	t.Run("rejects unbalanced query", func(t *testing.T) {
		_, err := EnforceBound("MATCH (c:Course RETURN c.name", 5)
		var malformed *MalformedQueryError
		require.ErrorAs(t, err, &malformed)
	})

	t.Run("rejects unterminated string literal", func(t *testing.T) {
		_, err := EnforceBound(`MATCH (c:Course {name: 'Analiza}) RETURN c`, 5)
		var malformed *MalformedQueryError
		require.ErrorAs(t, err, &malformed)
	})

	t.Run("rejects limit without integer bound", func(t *testing.T) {
		_, err := EnforceBound("MATCH (c:Course) RETURN c LIMIT $n", 5)
		var malformed *MalformedQueryError
		require.ErrorAs(t, err, &malformed)
	})

	t.Run("rejects non-positive cap", func(t *testing.T) {
		_, err := EnforceBound("MATCH (c:Course) RETURN c", 0)
		require.Error(t, err)
		var malformed *MalformedQueryError
		assert.False(t, errors.As(err, &malformed), "caller misuse is not a malformed query")
	})
}

func TestSplitBatch(t *testing.T) {
	t.Run("splits on pipes and trims", func(t *testing.T) {
		parts := SplitBatch(" MERGE (a:Course {name: 'A'}) | MERGE (b:Course {name: 'B'}) |MERGE (c:Course {name: 'C'})")
		require.Equal(t, []string{
			"MERGE (a:Course {name: 'A'})",
			"MERGE (b:Course {name: 'B'})",
			"MERGE (c:Course {name: 'C'})",
		}, parts)
	})

	t.Run("pipe inside string literal does not split", func(t *testing.T) {
		parts := SplitBatch(`MERGE (a:Course {name: 'Algebra | Analiza'}) | MERGE (b:Lecturer {name: "A | B"})`)
		require.Len(t, parts, 2)
		assert.Equal(t, `MERGE (a:Course {name: 'Algebra | Analiza'})`, parts[0])
		assert.Equal(t, `MERGE (b:Lecturer {name: "A | B"})`, parts[1])
	})

	t.Run("drops empty segments", func(t *testing.T) {
		parts := SplitBatch("| MERGE (a:Course {name: 'A'}) ||  |")
		require.Equal(t, []string{"MERGE (a:Course {name: 'A'})"}, parts)
	})

	t.Run("preserves statement order", func(t *testing.T) {
		parts := SplitBatch("MERGE (a:X) | MERGE (b:Y) | MERGE (a)-[:R]->(b)")
		require.Equal(t, []string{"MERGE (a:X)", "MERGE (b:Y)", "MERGE (a)-[:R]->(b)"}, parts)
	})
}

func TestValidateStatement(t *testing.T) {
	t.Run("accepts merge and create", func(t *testing.T) {
		require.NoError(t, ValidateStatement("MERGE (c:Course {name: 'Analiza'})"))
		require.NoError(t, ValidateStatement("create (c:Course {name: 'Analiza'})"))
	})

	t.Run("rejects read statements", func(t *testing.T) {
		err := ValidateStatement("MATCH (c:Course) DETACH DELETE c")
		var malformed *MalformedQueryError
		require.ErrorAs(t, err, &malformed)
	})

	t.Run("rejects unbalanced statement", func(t *testing.T) {
		err := ValidateStatement("MERGE (c:Course {name: 'Analiza'}")
		var malformed *MalformedQueryError
		require.ErrorAs(t, err, &malformed)
	})

	t.Run("rejects empty statement", func(t *testing.T) {
		err := ValidateStatement("  ")
		var malformed *MalformedQueryError
		require.ErrorAs(t, err, &malformed)
	})
}

func TestUniqueVariables(t *testing.T) {
	t.Run("renames redeclared variables", func(t *testing.T) {
		out := UniqueVariables([]string{
			"MERGE (c:Course {name: 'Analiza'})",
			"MERGE (c:Course {name: 'Algebra'})-[:TAUGHT_BY]->(l:Lecturer {name: 'Jan'})",
		})
		require.Equal(t, []string{
			"MERGE (c:Course {name: 'Analiza'})",
			"MERGE (c_2:Course {name: 'Algebra'})-[:TAUGHT_BY]->(l:Lecturer {name: 'Jan'})",
		}, out)
	})

	t.Run("rename follows references within the statement", func(t *testing.T) {
		out := UniqueVariables([]string{
			"MERGE (c:Course {name: 'Analiza'})",
			"MERGE (c:Course {name: 'Algebra'}) MERGE (c)-[:PART_OF]->(f:Faculty {name: 'W13'})",
		})
		require.Len(t, out, 2)
		assert.Equal(t, "MERGE (c_2:Course {name: 'Algebra'}) MERGE (c_2)-[:PART_OF]->(f:Faculty {name: 'W13'})", out[1])
	})

	t.Run("string literals are never rewritten", func(t *testing.T) {
		out := UniqueVariables([]string{
			"MERGE (c:Course {name: 'c'})",
			"MERGE (c:Course {name: 'c'})",
		})
		require.Len(t, out, 2)
		assert.Equal(t, "MERGE (c_2:Course {name: 'c'})", out[1])
	})

	t.Run("counter skips taken names", func(t *testing.T) {
		out := UniqueVariables([]string{
			"MERGE (c:Course {name: 'A'})",
			"MERGE (c:Course {name: 'B'})",
			"MERGE (c:Course {name: 'C'})",
		})
		require.Equal(t, []string{
			"MERGE (c:Course {name: 'A'})",
			"MERGE (c_2:Course {name: 'B'})",
			"MERGE (c_3:Course {name: 'C'})",
		}, out)
	})

	t.Run("deterministic for identical input", func(t *testing.T) {
		in := []string{
			"MERGE (a:X {v: 1})",
			"MERGE (a:X {v: 2}) MERGE (b:Y) MERGE (a)-[:R]->(b)",
		}
		first := UniqueVariables(append([]string(nil), in...))
		second := UniqueVariables(append([]string(nil), in...))
		assert.Equal(t, first, second)
	})
}
