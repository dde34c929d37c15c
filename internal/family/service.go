// Package family manages the children of a family and the PINs that let a
// shared tablet hand off to a child.
package family

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/dukerupert/choreboard/internal/apperr"
	"github.com/dukerupert/choreboard/internal/auth"
	"github.com/dukerupert/choreboard/internal/model"
	"github.com/dukerupert/choreboard/internal/notify"
	"github.com/dukerupert/choreboard/internal/store"
	"github.com/dukerupert/choreboard/internal/validate"
)

const dateLayout = "2006-01-02"

type ChildInput struct {
	Name      string `json:"name" validate:"required,max=100"`
	Birthdate string `json:"birthdate" validate:"omitempty,datetime=2006-01-02"`
}

type settingsInput struct {
	NotifyEmail string `json:"notify_email" validate:"omitempty,email,max=254"`
}

type pinInput struct {
	PIN string `json:"pin" validate:"len=4,number"`
}

type tokenIssuer interface {
	Issue(ac auth.AuthContext) (string, error)
}

type Service struct {
	families *store.FamilyStore
	issuer   tokenIssuer
	notifier notify.Notifier
	validate *validate.Validator
	logger   *slog.Logger
	cost     int
}

func New(db *sql.DB, issuer tokenIssuer, notifier notify.Notifier, logger *slog.Logger) *Service {
	if notifier == nil {
		notifier = notify.Nop{}
	}
	return &Service{
		families: store.NewFamilyStore(db),
		issuer:   issuer,
		notifier: notifier,
		validate: validate.New(),
		logger:   logger.With("component", "family"),
		cost:     bcrypt.DefaultCost,
	}
}

func (s *Service) normalize(in ChildInput) (ChildInput, *time.Time, error) {
	in.Name = strings.TrimSpace(in.Name)
	in.Birthdate = strings.TrimSpace(in.Birthdate)
	if err := s.validate.Struct(in); err != nil {
		return in, nil, err
	}
	if in.Birthdate == "" {
		return in, nil, nil
	}
	bd, err := time.Parse(dateLayout, in.Birthdate)
	if err != nil {
		return in, nil, apperr.Validation("birthdate: %v", err)
	}
	return in, &bd, nil
}

// Family returns the caller's family.
func (s *Service) Family(ctx context.Context) (*model.Family, error) {
	ac, err := auth.RequireMember(ctx)
	if err != nil {
		return nil, err
	}
	fam, err := s.families.GetFamily(ctx, ac.FamilyID)
	if err != nil {
		return nil, err
	}
	if fam == nil {
		return nil, apperr.NotFound("family", ac.FamilyID)
	}
	return fam, nil
}

// SetNotifyEmail sets where approval requests are emailed. Empty turns
// email off.
func (s *Service) SetNotifyEmail(ctx context.Context, email string) (*model.Family, error) {
	ac, err := auth.RequireParent(ctx)
	if err != nil {
		return nil, err
	}
	in := settingsInput{NotifyEmail: strings.TrimSpace(email)}
	if err := s.validate.Struct(in); err != nil {
		return nil, err
	}
	if err := s.families.SetNotifyEmail(ctx, ac.FamilyID, in.NotifyEmail); err != nil {
		return nil, err
	}
	s.logger.Info("notify email updated", "family_id", ac.FamilyID, "enabled", in.NotifyEmail != "")
	return s.Family(ctx)
}

// ListChildren returns the caller's family, ordered by name.
func (s *Service) ListChildren(ctx context.Context) ([]model.Child, error) {
	ac, err := auth.RequireMember(ctx)
	if err != nil {
		return nil, err
	}
	children, err := s.families.ListChildren(ctx, ac.FamilyID)
	if err != nil {
		return nil, err
	}
	if children == nil {
		children = []model.Child{}
	}
	return children, nil
}

func (s *Service) CreateChild(ctx context.Context, in ChildInput) (*model.Child, error) {
	ac, err := auth.RequireParent(ctx)
	if err != nil {
		return nil, err
	}
	in, bd, err := s.normalize(in)
	if err != nil {
		return nil, err
	}
	if err := s.checkName(ctx, ac.FamilyID, in.Name, ""); err != nil {
		return nil, err
	}
	c, err := s.families.CreateChild(ctx, ac.FamilyID, in.Name, bd)
	if err != nil {
		return nil, err
	}
	s.logger.Info("child added", "child_id", c.ID, "family_id", c.FamilyID)
	s.notifyChild(ctx, c)
	return c, nil
}

func (s *Service) UpdateChild(ctx context.Context, id string, in ChildInput) (*model.Child, error) {
	ac, err := auth.RequireParent(ctx)
	if err != nil {
		return nil, err
	}
	if _, err := s.familyChild(ctx, ac.FamilyID, id); err != nil {
		return nil, err
	}
	in, bd, err := s.normalize(in)
	if err != nil {
		return nil, err
	}
	if err := s.checkName(ctx, ac.FamilyID, in.Name, id); err != nil {
		return nil, err
	}
	c, err := s.families.UpdateChild(ctx, id, in.Name, bd)
	if err != nil {
		return nil, err
	}
	if c == nil {
		return nil, apperr.NotFound("child", id)
	}
	s.notifyChild(ctx, c)
	return c, nil
}

// RemoveChild soft-deletes a child. Their ledger history stays.
func (s *Service) RemoveChild(ctx context.Context, id string) error {
	ac, err := auth.RequireParent(ctx)
	if err != nil {
		return err
	}
	c, err := s.familyChild(ctx, ac.FamilyID, id)
	if err != nil {
		return err
	}
	if err := s.families.RemoveChild(ctx, id); err != nil {
		return err
	}
	s.logger.Info("child removed", "child_id", id, "family_id", ac.FamilyID)
	s.notifyChild(ctx, c)
	return nil
}

func (s *Service) SetPIN(ctx context.Context, id, pin string) error {
	ac, err := auth.RequireParent(ctx)
	if err != nil {
		return err
	}
	if _, err := s.familyChild(ctx, ac.FamilyID, id); err != nil {
		return err
	}
	if err := s.validate.Struct(pinInput{PIN: pin}); err != nil {
		return err
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(pin), s.cost)
	if err != nil {
		return fmt.Errorf("hash pin: %w", err)
	}
	if err := s.families.SetPIN(ctx, id, string(hash)); err != nil {
		return err
	}
	s.logger.Info("pin set", "child_id", id)
	return nil
}

func (s *Service) ClearPIN(ctx context.Context, id string) error {
	ac, err := auth.RequireParent(ctx)
	if err != nil {
		return err
	}
	if _, err := s.familyChild(ctx, ac.FamilyID, id); err != nil {
		return err
	}
	if err := s.families.ClearPIN(ctx, id); err != nil {
		return err
	}
	s.logger.Info("pin cleared", "child_id", id)
	return nil
}

// VerifyPIN checks a child's PIN and returns a token that acts as that
// child. Any member of the family may call it, which is how a tablet signed
// in as a parent hands off.
func (s *Service) VerifyPIN(ctx context.Context, id, pin string) (string, error) {
	ac, err := auth.RequireMember(ctx)
	if err != nil {
		return "", err
	}
	if _, err := s.familyChild(ctx, ac.FamilyID, id); err != nil {
		return "", err
	}
	hash, err := s.families.GetPINHash(ctx, id)
	if errors.Is(err, store.ErrChildNotFound) {
		return "", apperr.NotFound("child", id)
	}
	if err != nil {
		return "", err
	}
	if hash == "" {
		return "", apperr.Validation("no PIN set for child %q", id)
	}
	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(pin)); err != nil {
		s.logger.Warn("pin rejected", "child_id", id)
		return "", apperr.Unauthorized("incorrect PIN")
	}
	return s.issuer.Issue(auth.AuthContext{ActorID: id, FamilyID: ac.FamilyID, Role: auth.RoleChild})
}

func (s *Service) familyChild(ctx context.Context, familyID, id string) (*model.Child, error) {
	c, err := s.families.GetFamilyChild(ctx, familyID, id)
	if err != nil {
		return nil, err
	}
	if c == nil {
		return nil, apperr.NotFound("child", id)
	}
	return c, nil
}

func (s *Service) checkName(ctx context.Context, familyID, name, excludeID string) error {
	exists, err := s.families.NameExists(ctx, familyID, name, excludeID)
	if err != nil {
		return err
	}
	if exists {
		return apperr.Conflict("a child named %q already exists", name)
	}
	return nil
}

func (s *Service) notifyChild(ctx context.Context, c *model.Child) {
	s.notifier.Notify(ctx, notify.Event{
		Type:     notify.ChildChanged,
		FamilyID: c.FamilyID,
		ID:       c.ID,
		ChildID:  c.ID,
		Title:    c.Name,
		At:       time.Now().UTC(),
	})
}
