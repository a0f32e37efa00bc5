package boardserver

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/brianvoe/gofakeit/v6"
	"gopkg.in/yaml.v3"
	"gorm.io/gorm"
)

// Demo account created by SeedDemo.
const (
	DemoEmail    = "demo@board.local"
	DemoPassword = "demo1234"
)

// Fixtures describes users, posts and comments to load at startup.
type Fixtures struct {
	Users []FixtureUser `yaml:"users"`
	Posts []FixturePost `yaml:"posts"`
}

// FixtureUser is a user with a plain-text password.
type FixtureUser struct {
	Email    string `yaml:"email"`
	Nickname string `yaml:"nickname"`
	Password string `yaml:"password"`
}

// FixturePost is a post written by the user with the given email.
type FixturePost struct {
	Author     string           `yaml:"author"`
	Title      string           `yaml:"title"`
	Content    string           `yaml:"content"`
	CategoryID int64            `yaml:"categoryId"`
	Likes      []string         `yaml:"likes"`
	Comments   []FixtureComment `yaml:"comments"`
}

// FixtureComment is a comment written by the user with the given email.
type FixtureComment struct {
	Author  string   `yaml:"author"`
	Content string   `yaml:"content"`
	Likes   []string `yaml:"likes"`
}

// LoadFixtures reads a fixtures file.
func LoadFixtures(path string) (*Fixtures, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read fixtures: %w", err)
	}
	var f Fixtures
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse fixtures %s: %w", path, err)
	}
	return &f, nil
}

// Seeder creates demo and fixture data.
type Seeder struct {
	db     *gorm.DB
	faker  *gofakeit.Faker
	logger *slog.Logger
}

// NewSeeder creates a seeder. A fixed seed makes demo content repeatable.
func NewSeeder(db *gorm.DB, seed int64, logger *slog.Logger) *Seeder {
	return &Seeder{db: db, faker: gofakeit.New(seed), logger: logger}
}

// ApplyFixtures inserts the fixtures in one transaction. Users that already
// exist are reused.
func (s *Seeder) ApplyFixtures(ctx context.Context, f *Fixtures) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		users := make(map[string]int64, len(f.Users))
		for _, fu := range f.Users {
			email := strings.ToLower(strings.TrimSpace(fu.Email))
			id, err := ensureUser(tx, email, fu.Nickname, fu.Password)
			if err != nil {
				return err
			}
			users[email] = id
		}

		lookup := func(email string) (int64, error) {
			id, ok := users[strings.ToLower(strings.TrimSpace(email))]
			if !ok {
				return 0, fmt.Errorf("fixture references unknown user %q", email)
			}
			return id, nil
		}

		for _, fp := range f.Posts {
			authorID, err := lookup(fp.Author)
			if err != nil {
				return err
			}
			post := postRecord{Title: fp.Title, Content: fp.Content, CategoryID: fp.CategoryID, AuthorID: authorID}
			if err := tx.Create(&post).Error; err != nil {
				return fmt.Errorf("create fixture post: %w", err)
			}
			for _, liker := range fp.Likes {
				userID, err := lookup(liker)
				if err != nil {
					return err
				}
				if err := tx.Create(&postLikeRecord{PostID: post.ID, UserID: userID}).Error; err != nil {
					return err
				}
			}
			for _, fc := range fp.Comments {
				commenter, err := lookup(fc.Author)
				if err != nil {
					return err
				}
				comment := commentRecord{PostID: post.ID, AuthorID: commenter, Content: fc.Content}
				if err := tx.Create(&comment).Error; err != nil {
					return fmt.Errorf("create fixture comment: %w", err)
				}
				for _, liker := range fc.Likes {
					userID, err := lookup(liker)
					if err != nil {
						return err
					}
					if err := tx.Create(&commentLikeRecord{CommentID: comment.ID, UserID: userID}).Error; err != nil {
						return err
					}
				}
			}
		}

		s.logger.Info("Fixtures applied",
			slog.Int("users", len(f.Users)),
			slog.Int("posts", len(f.Posts)),
		)
		return nil
	})
}

// SeedDemo fills an empty database with the demo account, a handful of fake
// users and posts with comments and likes. It does nothing when any user
// exists.
func (s *Seeder) SeedDemo(ctx context.Context, users, posts int) error {
	var count int64
	if err := s.db.WithContext(ctx).Model(&userRecord{}).Count(&count).Error; err != nil {
		return err
	}
	if count > 0 {
		s.logger.Info("Skipping demo seed, database is not empty")
		return nil
	}

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		hash, err := HashPassword(DemoPassword)
		if err != nil {
			return err
		}

		ids := make([]int64, 0, users+1)
		demo := userRecord{Email: DemoEmail, Nickname: "demo", Password: hash}
		if err := tx.Create(&demo).Error; err != nil {
			return fmt.Errorf("create demo user: %w", err)
		}
		ids = append(ids, demo.ID)

		for i := 0; i < users; i++ {
			u := userRecord{
				Email:    fmt.Sprintf("user%d@board.local", i+1),
				Nickname: s.faker.Username(),
				Password: hash,
			}
			if err := tx.Create(&u).Error; err != nil {
				return fmt.Errorf("create fake user: %w", err)
			}
			ids = append(ids, u.ID)
		}

		now := time.Now()
		for i := 0; i < posts; i++ {
			created := s.faker.DateRange(now.AddDate(0, 0, -30), now)
			post := postRecord{
				Title:      s.faker.Sentence(5),
				Content:    s.faker.Paragraph(1, 3, 8, "\n"),
				CategoryID: int64(s.faker.Number(1, 3)),
				AuthorID:   ids[s.faker.Number(0, len(ids)-1)],
				CreatedAt:  created,
			}
			if err := tx.Create(&post).Error; err != nil {
				return fmt.Errorf("create fake post: %w", err)
			}

			// some threads get enough comments for a best comment
			comments := s.faker.Number(0, 14)
			for j := 0; j < comments; j++ {
				comment := commentRecord{
					PostID:    post.ID,
					AuthorID:  ids[s.faker.Number(0, len(ids)-1)],
					Content:   s.faker.Sentence(10),
					CreatedAt: created.Add(time.Duration(j+1) * time.Minute),
				}
				if err := tx.Create(&comment).Error; err != nil {
					return fmt.Errorf("create fake comment: %w", err)
				}
				for _, liker := range s.pick(ids, s.faker.Number(0, len(ids))) {
					if err := tx.Create(&commentLikeRecord{CommentID: comment.ID, UserID: liker}).Error; err != nil {
						return err
					}
				}
			}

			for _, liker := range s.pick(ids, s.faker.Number(0, len(ids))) {
				if err := tx.Create(&postLikeRecord{PostID: post.ID, UserID: liker}).Error; err != nil {
					return err
				}
			}
		}

		s.logger.Info("Demo data seeded",
			slog.Int("users", len(ids)),
			slog.Int("posts", posts),
			slog.String("login", DemoEmail),
		)
		return nil
	})
}

// pick returns n distinct ids.
func (s *Seeder) pick(ids []int64, n int) []int64 {
	shuffled := append([]int64(nil), ids...)
	s.faker.ShuffleAnySlice(shuffled)
	if n > len(shuffled) {
		n = len(shuffled)
	}
	return shuffled[:n]
}

func ensureUser(tx *gorm.DB, email, nickname, password string) (int64, error) {
	var existing userRecord
	err := tx.Where("email = ?", email).Limit(1).Find(&existing).Error
	if err != nil {
		return 0, err
	}
	if existing.ID != 0 {
		return existing.ID, nil
	}

	hash, err := HashPassword(password)
	if err != nil {
		return 0, err
	}
	u := userRecord{Email: email, Nickname: nickname, Password: hash}
	if err := tx.Create(&u).Error; err != nil {
		return 0, fmt.Errorf("create fixture user %s: %w", email, err)
	}
	return u.ID, nil
}
