package renderer

import (
	"testing"

	"vrainweb/task"

	"github.com/stretchr/testify/assert"
)

func TestValidateSubjectID(t *testing.T) {
	t.Run("Valid ids", func(t *testing.T) {
		for _, id := range []string{"01", "book01", "庄子", "zz_2024.v2"} {
			assert.NoError(t, ValidateSubjectID(id), id)
		}
	})

	t.Run("Empty id", func(t *testing.T) {
		err := ValidateSubjectID("")
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "book id is required")
	})

	t.Run("Leading dash", func(t *testing.T) {
		err := ValidateSubjectID("-z")
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "must not start with '-'")
	})

	t.Run("Path traversal", func(t *testing.T) {
		for _, id := range []string{"..", "../etc", `a\b`, "books/01"} {
			err := ValidateSubjectID(id)
			assert.Error(t, err, id)
		}
	})

	t.Run("Disallowed character (semicolon)", func(t *testing.T) {
		err := ValidateSubjectID("01; ls")
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "disallowed character found in book id: 01; ls")
	})
}

func TestValidateParameters(t *testing.T) {
	assert.NoError(t, ValidateParameters(task.Parameters{}))
	assert.NoError(t, ValidateParameters(task.Parameters{From: 3, To: 10, Pages: 5}))
	assert.NoError(t, ValidateParameters(task.Parameters{From: 7}))

	assert.Error(t, ValidateParameters(task.Parameters{From: -1}))
	assert.Error(t, ValidateParameters(task.Parameters{From: 10, To: 3}))
	assert.Error(t, ValidateParameters(task.Parameters{Pages: 5000}))
}
