package gemini

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var pngHeader = []byte{0x89, 'P', 'N', 'G', '\r', '\n', 0x1a, '\n'}

func TestWithDefaultRole(t *testing.T) {
	c := withDefaultRole(Content{Parts: []Part{Text("hi")}}, RoleUser)
	assert.Equal(t, RoleUser, c.Role)

	c = withDefaultRole(Content{Role: RoleModel, Parts: []Part{Text("hi")}}, RoleUser)
	assert.Equal(t, RoleModel, c.Role, "an existing role must be kept")
}

func TestImageData_Valid(t *testing.T) {
	part, err := ImageData("png", pngHeader)
	require.NoError(t, err)
	require.NotNil(t, part.InlineData)
	assert.Equal(t, "image/png", part.InlineData.MIMEType)
	assert.Equal(t, pngHeader, part.InlineData.Data)
}

func TestImageData_Mismatch(t *testing.T) {
	_, err := ImageData("png", []byte("definitely not an image"))
	require.Error(t, err)
	re, ok := AsResponseError(err)
	require.True(t, ok)
	assert.Equal(t, ErrKindInvalidContent, re.Kind)

	_, err = ImageData("jpeg", pngHeader)
	require.Error(t, err, "png bytes declared as jpeg must fail")

	_, err = ImageData("png", nil)
	require.Error(t, err)
}

func TestPartIsText(t *testing.T) {
	assert.True(t, Text("x").isText())
	assert.True(t, Part{}.isText(), "the empty part counts as empty text")
	assert.False(t, Data("image/png", pngHeader).isText())
	assert.False(t, FileURI("image/png", "files/abc").isText())
	assert.False(t, NewFunctionCall("f", nil).isText())
	assert.False(t, NewFunctionResponse("f", nil).isText())
}

func TestResponseText(t *testing.T) {
	resp := &GenerateContentResponse{
		Candidates: []Candidate{{
			Content: NewModelContent(
				Text("one "),
				Data("image/png", pngHeader),
				Text("two"),
			),
		}},
	}
	assert.Equal(t, "one two", resp.Text())

	assert.Empty(t, (&GenerateContentResponse{}).Text())
	assert.Empty(t, (*GenerateContentResponse)(nil).Text())
}
