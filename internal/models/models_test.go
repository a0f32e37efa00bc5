package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPostFilter_KeyPartIsOrderIndependent(t *testing.T) {
	a := PostFilter{CategoryID: 3, Page: 2, Size: 20}
	b := PostFilter{Size: 20, Page: 2, CategoryID: 3}

	assert.Equal(t, a.KeyPart(), b.KeyPart())
	assert.Equal(t, "categoryId=3&page=2&size=20", a.KeyPart())
	assert.Equal(t, "", PostFilter{}.KeyPart())
}

func TestPost_CloneDoesNotShareComments(t *testing.T) {
	p := Post{ID: 1, Comments: []Comment{{ID: 10, Content: "first"}}}

	c := p.Clone().(Post)
	c.Comments[0].Content = "changed"

	assert.Equal(t, "first", p.Comments[0].Content)
}

func TestNotifications_CloneCopiesPostID(t *testing.T) {
	id := int64(42)
	ns := Notifications{{ID: 1, PostID: &id}}

	c := ns.Clone().(Notifications)
	*c[0].PostID = 7

	assert.Equal(t, int64(42), *ns[0].PostID)
}

func TestComments_IndexOf(t *testing.T) {
	cs := Comments{{ID: 5}, {ID: 9}}
	assert.Equal(t, 1, cs.IndexOf(9))
	assert.Equal(t, -1, cs.IndexOf(3))
}
