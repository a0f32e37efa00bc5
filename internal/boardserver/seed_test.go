package boardserver

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"boardsync/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func TestSeedDemo(t *testing.T) {
	db := setupTestDB(t)
	seeder := NewSeeder(db, 42, testLogger())
	ctx := context.Background()

	require.NoError(t, seeder.SeedDemo(ctx, 3, 5))

	var users, posts int64
	require.NoError(t, db.Model(&userRecord{}).Count(&users).Error)
	require.NoError(t, db.Model(&postRecord{}).Count(&posts).Error)
	assert.Equal(t, int64(4), users)
	assert.Equal(t, int64(5), posts)

	store := NewStore(db)
	demo, err := store.UserByEmail(ctx, DemoEmail)
	require.NoError(t, err)
	require.NotNil(t, demo)
	assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(demo.Password), []byte(DemoPassword)))

	// a second run leaves the data alone
	require.NoError(t, seeder.SeedDemo(ctx, 3, 5))
	require.NoError(t, db.Model(&userRecord{}).Count(&users).Error)
	assert.Equal(t, int64(4), users)
}

const fixturesYAML = `
users:
  - email: alice@board.local
    nickname: alice
    password: password1
  - email: Bob@board.local
    nickname: bob
    password: password2
posts:
  - author: alice@board.local
    title: Welcome
    content: First post
    categoryId: 2
    likes: [bob@board.local]
    comments:
      - author: bob@board.local
        content: Hello alice
        likes: [alice@board.local]
`

func TestApplyFixtures(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fixtures.yml")
	require.NoError(t, os.WriteFile(path, []byte(fixturesYAML), 0o600))

	f, err := LoadFixtures(path)
	require.NoError(t, err)
	require.Len(t, f.Users, 2)
	require.Len(t, f.Posts, 1)

	db := setupTestDB(t)
	seeder := NewSeeder(db, 1, testLogger())
	ctx := context.Background()
	require.NoError(t, seeder.ApplyFixtures(ctx, f))

	store := NewStore(db)
	alice, err := store.UserByEmail(ctx, "alice@board.local")
	require.NoError(t, err)
	require.NotNil(t, alice)
	bob, err := store.UserByEmail(ctx, "bob@board.local")
	require.NoError(t, err)
	require.NotNil(t, bob)

	posts, err := store.ListPosts(ctx, models.PostFilter{CategoryID: 2}, bob.ID)
	require.NoError(t, err)
	require.Len(t, posts, 1)
	assert.Equal(t, "Welcome", posts[0].Title)
	assert.Equal(t, 1, posts[0].LikeCount)
	assert.True(t, posts[0].Liked)
	assert.Equal(t, 1, posts[0].CommentCount)

	comments, err := store.ListComments(ctx, posts[0].ID, alice.ID)
	require.NoError(t, err)
	require.Len(t, comments, 1)
	assert.Equal(t, "bob", comments[0].Nickname)
	assert.True(t, comments[0].Liked)

	// users are reused on a second load
	require.NoError(t, seeder.ApplyFixtures(ctx, &Fixtures{Users: f.Users}))
	n, err := store.CountUsers(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
}

func TestApplyFixtures_UnknownAuthor(t *testing.T) {
	db := setupTestDB(t)
	seeder := NewSeeder(db, 1, testLogger())

	err := seeder.ApplyFixtures(context.Background(), &Fixtures{
		Posts: []FixturePost{{Author: "ghost@board.local", Title: "t", Content: "c"}},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ghost@board.local")
}
