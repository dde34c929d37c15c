package validate

import (
	"errors"
	"strings"
	"testing"

	"github.com/dukerupert/choreboard/internal/apperr"
)

type input struct {
	Title  string `json:"title" validate:"required,max=10"`
	Points int    `json:"points" validate:"min=1"`
	Kind   string `json:"kind" validate:"omitempty,oneof=a b"`
}

func TestStructValid(t *testing.T) {
	if err := New().Struct(input{Title: "Dishes", Points: 3, Kind: "a"}); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestStructReportsJSONFieldNames(t *testing.T) {
	err := New().Struct(input{Points: 0, Kind: "c"})
	if !errors.Is(err, apperr.ErrValidation) {
		t.Fatalf("err = %v, want validation error", err)
	}
	msg := err.Error()
	for _, want := range []string{"title is required", "points must be at least 1", "kind must be one of: a b"} {
		if !strings.Contains(msg, want) {
			t.Errorf("message %q missing %q", msg, want)
		}
	}
}

func TestStructMax(t *testing.T) {
	err := New().Struct(input{Title: "far too long a title", Points: 1})
	if err == nil || !strings.Contains(err.Error(), "title must be at most 10") {
		t.Errorf("err = %v", err)
	}
}

func TestStructPINAndDate(t *testing.T) {
	type pinInput struct {
		PIN       string `json:"pin" validate:"len=4,number"`
		Birthdate string `json:"birthdate" validate:"omitempty,datetime=2006-01-02"`
	}
	v := New()
	if err := v.Struct(pinInput{PIN: "0420", Birthdate: "2016-04-02"}); err != nil {
		t.Errorf("unexpected error: %v", err)
	}

	err := v.Struct(pinInput{PIN: "12a4", Birthdate: "April 2"})
	if err == nil {
		t.Fatal("expected error")
	}
	for _, want := range []string{"pin must contain only digits", "birthdate must be formatted as 2006-01-02"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("message %q missing %q", err, want)
		}
	}

	if err := v.Struct(pinInput{PIN: "123"}); err == nil || !strings.Contains(err.Error(), "pin must be exactly 4 characters") {
		t.Errorf("err = %v", err)
	}
}
