// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Vidloom Contributors

// Package mongo provides a MongoDB-backed auth.UserRepository.
//
// Each user is one document in the users collection. Every mutation replaces
// the whole document, so concurrent writers follow last-write-wins.
package mongo

import (
	"context"
	"errors"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
	"go.mongodb.org/mongo-driver/v2/mongo/readpref"

	"github.com/vidloom/accounts/internal/auth"
)

// CollectionName is the collection holding user documents.
const CollectionName = "users"

const emailIndexName = "users_email_unique"

// userDocument is the stored shape of auth.User.
type userDocument struct {
	ID                    string     `bson:"_id"`
	Name                  string     `bson:"name"`
	Email                 string     `bson:"email"`
	PasswordHash          string     `bson:"password_hash"`
	EmailVerified         bool       `bson:"email_verified"`
	VerificationCode      string     `bson:"verification_code,omitempty"`
	VerificationExpiresAt *time.Time `bson:"verification_expires_at,omitempty"`
	ResetCode             string     `bson:"reset_code,omitempty"`
	ResetExpiresAt        *time.Time `bson:"reset_expires_at,omitempty"`
	Plan                  string     `bson:"plan"`
	IsAdmin               bool       `bson:"is_admin"`
	ConnectedPlatforms    []string   `bson:"connected_platforms"`
	VideosGenerated       int        `bson:"videos_generated"`
	LastLoginAt           *time.Time `bson:"last_login_at,omitempty"`
	CreatedAt             time.Time  `bson:"created_at"`
	UpdatedAt             time.Time  `bson:"updated_at"`
}

func toDocument(u *auth.User) userDocument {
	doc := userDocument{
		ID:                 u.ID.String(),
		Name:               u.Name,
		Email:              auth.NormalizeEmail(u.Email),
		PasswordHash:       u.PasswordHash,
		EmailVerified:      u.EmailVerified,
		Plan:               string(u.Plan),
		IsAdmin:            u.IsAdmin,
		ConnectedPlatforms: make([]string, len(u.ConnectedPlatforms)),
		VideosGenerated:    u.VideosGenerated,
		LastLoginAt:        u.LastLoginAt,
		CreatedAt:          u.CreatedAt,
		UpdatedAt:          u.UpdatedAt,
	}
	for i, p := range u.ConnectedPlatforms {
		doc.ConnectedPlatforms[i] = string(p)
	}
	if v := u.Verification; v != nil {
		expires := v.ExpiresAt
		doc.VerificationCode = v.Code
		doc.VerificationExpiresAt = &expires
	}
	if r := u.PasswordReset; r != nil {
		expires := r.ExpiresAt
		doc.ResetCode = r.Code
		doc.ResetExpiresAt = &expires
	}
	return doc
}

func (d userDocument) toUser() (*auth.User, error) {
	id, err := ulid.Parse(d.ID)
	if err != nil {
		return nil, oops.Code("USER_INVALID_ID").
			With("operation", "parse user id").
			With("id", d.ID).
			Wrap(err)
	}
	if !auth.Plan(d.Plan).Valid() {
		return nil, oops.Code("USER_INVALID_PLAN").
			With("id", d.ID).
			With("plan", d.Plan).
			Errorf("stored user has unknown plan %q", d.Plan)
	}
	u := &auth.User{
		ID:              id,
		Name:            d.Name,
		Email:           d.Email,
		PasswordHash:    d.PasswordHash,
		EmailVerified:   d.EmailVerified,
		Plan:            auth.Plan(d.Plan),
		IsAdmin:         d.IsAdmin,
		VideosGenerated: d.VideosGenerated,
		LastLoginAt:     utcPtr(d.LastLoginAt),
		CreatedAt:       d.CreatedAt.UTC(),
		UpdatedAt:       d.UpdatedAt.UTC(),
	}
	if len(d.ConnectedPlatforms) > 0 {
		u.ConnectedPlatforms = make([]auth.Platform, len(d.ConnectedPlatforms))
		for i, p := range d.ConnectedPlatforms {
			u.ConnectedPlatforms[i] = auth.Platform(p)
		}
	}
	if d.VerificationCode != "" && d.VerificationExpiresAt != nil {
		u.Verification = &auth.OneTimeCode{Code: d.VerificationCode, ExpiresAt: d.VerificationExpiresAt.UTC()}
	}
	if d.ResetCode != "" && d.ResetExpiresAt != nil {
		u.PasswordReset = &auth.OneTimeCode{Code: d.ResetCode, ExpiresAt: d.ResetExpiresAt.UTC()}
	}
	return u, nil
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := t.UTC()
	return &v
}

// UserRepository implements auth.UserRepository on a MongoDB collection.
type UserRepository struct {
	client *mongo.Client
	coll   *mongo.Collection
}

// NewUserRepository creates a repository on database db of client.
// Call EnsureIndexes before serving traffic.
func NewUserRepository(client *mongo.Client, db string) *UserRepository {
	return &UserRepository{
		client: client,
		coll:   client.Database(db).Collection(CollectionName),
	}
}

// Connect dials uri and verifies the connection with a ping.
func Connect(ctx context.Context, uri string, timeout time.Duration) (*mongo.Client, error) {
	opts := options.Client().ApplyURI(uri)
	if timeout > 0 {
		opts.SetServerSelectionTimeout(timeout)
	}
	client, err := mongo.Connect(opts)
	if err != nil {
		return nil, oops.Code("USER_STORE_CONNECT_FAILED").With("operation", "connect").Wrap(err)
	}
	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		_ = client.Disconnect(ctx) //nolint:errcheck // ping error takes precedence
		return nil, oops.Code("USER_STORE_CONNECT_FAILED").With("operation", "ping").Wrap(err)
	}
	return client, nil
}

// EnsureIndexes creates the unique email index if it does not exist.
func (r *UserRepository) EnsureIndexes(ctx context.Context) error {
	_, err := r.coll.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "email", Value: 1}},
		Options: options.Index().SetName(emailIndexName).SetUnique(true),
	})
	if err != nil {
		return oops.Code("USER_INDEX_FAILED").With("index", emailIndexName).Wrap(err)
	}
	return nil
}

// Create stores a new user.
func (r *UserRepository) Create(ctx context.Context, user *auth.User) error {
	_, err := r.coll.InsertOne(ctx, toDocument(user))
	if mongo.IsDuplicateKeyError(err) {
		return oops.Code("USER_EMAIL_TAKEN").
			With("email", user.Email).
			Wrap(auth.ErrEmailTaken)
	}
	if err != nil {
		return oops.Code("USER_CREATE_FAILED").
			With("operation", "insert user").
			With("id", user.ID.String()).
			Wrap(err)
	}
	return nil
}

// GetByID retrieves a user by ID.
func (r *UserRepository) GetByID(ctx context.Context, id ulid.ULID) (*auth.User, error) {
	return r.findOne(ctx, bson.D{{Key: "_id", Value: id.String()}}, "id", id.String())
}

// GetByEmail retrieves a user by email. Stored emails are normalized, so the
// lookup is case-insensitive.
func (r *UserRepository) GetByEmail(ctx context.Context, email string) (*auth.User, error) {
	email = auth.NormalizeEmail(email)
	return r.findOne(ctx, bson.D{{Key: "email", Value: email}}, "email", email)
}

func (r *UserRepository) findOne(ctx context.Context, filter bson.D, key, value string) (*auth.User, error) {
	var doc userDocument
	err := r.coll.FindOne(ctx, filter).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, oops.Code("USER_NOT_FOUND").
			With(key, value).
			Wrap(auth.ErrNotFound)
	}
	if err != nil {
		return nil, oops.Code("USER_GET_FAILED").
			With("operation", "find user").
			With(key, value).
			Wrap(err)
	}
	return doc.toUser()
}

// Update replaces the stored document of an existing user.
func (r *UserRepository) Update(ctx context.Context, user *auth.User) error {
	result, err := r.coll.ReplaceOne(ctx, bson.D{{Key: "_id", Value: user.ID.String()}}, toDocument(user))
	if mongo.IsDuplicateKeyError(err) {
		return oops.Code("USER_EMAIL_TAKEN").
			With("email", user.Email).
			Wrap(auth.ErrEmailTaken)
	}
	if err != nil {
		return oops.Code("USER_UPDATE_FAILED").
			With("operation", "replace user").
			With("id", user.ID.String()).
			Wrap(err)
	}
	if result.MatchedCount == 0 {
		return oops.Code("USER_NOT_FOUND").
			With("id", user.ID.String()).
			Wrap(auth.ErrNotFound)
	}
	return nil
}

// Delete removes a user.
func (r *UserRepository) Delete(ctx context.Context, id ulid.ULID) error {
	result, err := r.coll.DeleteOne(ctx, bson.D{{Key: "_id", Value: id.String()}})
	if err != nil {
		return oops.Code("USER_DELETE_FAILED").
			With("operation", "delete user").
			With("id", id.String()).
			Wrap(err)
	}
	if result.DeletedCount == 0 {
		return oops.Code("USER_NOT_FOUND").
			With("id", id.String()).
			Wrap(auth.ErrNotFound)
	}
	return nil
}

// Ping checks connectivity to the primary.
func (r *UserRepository) Ping(ctx context.Context) error {
	if err := r.client.Ping(ctx, readpref.Primary()); err != nil {
		return oops.Code("USER_STORE_UNAVAILABLE").Wrap(err)
	}
	return nil
}

// Compile-time interface check.
var _ auth.UserRepository = (*UserRepository)(nil)
