package db

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gocql/gocql"
	"github.com/google/uuid"
	"github.com/ntentasd/acuamon-api/pkg/types"
)

type UserAlreadyExistsError struct {
	Username string
}

func (e *UserAlreadyExistsError) Error() string {
	return fmt.Sprintf("user '%s' already exists", e.Username)
}

func (e *UserAlreadyExistsError) Is(target error) bool {
	_, ok := target.(*UserAlreadyExistsError)
	return ok
}

func normalizeUsername(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

func (db *DB) GetUserByUsername(ctx context.Context, username string) (*types.User, error) {
	ctx, cancel := context.WithTimeout(ctx, 500*time.Millisecond)
	defer cancel()

	start := time.Now()
	defer observeRead("get_user", start)

	username = normalizeUsername(username)
	var (
		userID               gocql.UUID
		hash, role           string
		createdAt, updatedAt time.Time
	)
	err := db.Meta.Query(`
SELECT user_id, password_hash, role, created_at, updated_at
FROM users
WHERE username = ?
`, username).WithContext(ctx).Scan(&userID, &hash, &role, &createdAt, &updatedAt)
	if err != nil {
		if errors.Is(err, gocql.ErrNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}

	return &types.User{
		UserID:       uuid.UUID(userID),
		Username:     username,
		PasswordHash: hash,
		Role:         types.Role(role),
		CreatedAt:    createdAt,
		UpdatedAt:    updatedAt,
	}, nil
}

func (db *DB) ListUsers(ctx context.Context) ([]types.User, error) {
	ctx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()

	iter := db.Meta.Query(`
SELECT username, user_id, role, created_at, updated_at
FROM users
`).WithContext(ctx).Iter()

	var results []types.User
	var (
		username, role       string
		userID               gocql.UUID
		createdAt, updatedAt time.Time
	)
	for iter.Scan(&username, &userID, &role, &createdAt, &updatedAt) {
		results = append(results, types.User{
			UserID:    uuid.UUID(userID),
			Username:  username,
			Role:      types.Role(role),
			CreatedAt: createdAt,
			UpdatedAt: updatedAt,
		})
	}
	if err := iter.Close(); err != nil {
		return nil, err
	}

	return results, nil
}

// CreateUser stores a user whose password is already hashed. Usernames are
// unique, case-insensitively.
func (db *DB) CreateUser(ctx context.Context, username, passwordHash string, role types.Role) (*types.User, error) {
	if !role.Valid() {
		return nil, fmt.Errorf("invalid role %q", role)
	}
	ctx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()

	start := time.Now()
	defer observeWrite("create_user", start)

	now := db.now().UTC()
	user := types.WithUpdatedTimestamp(types.User{
		UserID:       uuid.New(),
		Username:     normalizeUsername(username),
		PasswordHash: passwordHash,
		Role:         role,
		CreatedAt:    now,
	}, now)

	existing := map[string]any{}
	applied, err := db.Meta.Query(`
INSERT INTO users (username, user_id, password_hash, role, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?)
IF NOT EXISTS
`, user.Username, toCQL(user.UserID), user.PasswordHash, string(user.Role), user.CreatedAt, user.UpdatedAt).
		WithContext(ctx).MapScanCAS(existing)
	if err != nil {
		return nil, err
	}
	if !applied {
		return nil, &UserAlreadyExistsError{Username: user.Username}
	}

	return &user, nil
}
