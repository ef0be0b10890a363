package catalog

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

// Item is one catalog record (a book, a film, ...).
type Item struct {
	ID      int    `json:"id"`
	Title   string `json:"title" validate:"notblank"`
	Author  string `json:"author" validate:"notblank"`
	Year    int    `json:"year" validate:"gte=1000,yearahead=10"`
	Genre   string `json:"genre" validate:"notblank"`
	Details string `json:"details"`
}

func (i Item) String() string {
	return fmt.Sprintf("%d - %s (%s, %d) - %s", i.ID, i.Title, i.Author, i.Year, i.Genre)
}

// ItemUpdate carries the optional fields of a partial update. A nil pointer, an
// empty string or a zero year leaves the column untouched.
type ItemUpdate struct {
	Title   *string `json:"title,omitempty"`
	Author  *string `json:"author,omitempty"`
	Year    *int    `json:"year,omitempty"`
	Genre   *string `json:"genre,omitempty"`
	Details *string `json:"details,omitempty"`
}

type assignment struct {
	column string
	value  any
}

// assignments returns the effective fields in column order.
func (u ItemUpdate) assignments() []assignment {
	var out []assignment
	addString := func(column string, v *string) {
		if v != nil && *v != "" {
			out = append(out, assignment{column: column, value: *v})
		}
	}

	addString("titulo", u.Title)
	addString("autor", u.Author)
	if u.Year != nil && *u.Year != 0 {
		out = append(out, assignment{column: "ano", value: *u.Year})
	}
	addString("genero", u.Genre)
	addString("detalhes", u.Details)

	return out
}

// Empty reports whether the update would change nothing.
func (u ItemUpdate) Empty() bool {
	return len(u.assignments()) == 0
}

const (
	minYear       = 1000
	maxYearsAhead = 10
	tagNotBlank   = "notblank"
	tagYearAhead  = "yearahead"
)

type clockKey struct{}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		return strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
	})
	_ = v.RegisterValidation(tagNotBlank, func(fl validator.FieldLevel) bool {
		return strings.TrimSpace(fl.Field().String()) != ""
	})
	// yearahead=N caps the year at N years past the clock carried in the context.
	_ = v.RegisterValidationCtx(tagYearAhead, func(ctx context.Context, fl validator.FieldLevel) bool {
		now, ok := ctx.Value(clockKey{}).(time.Time)
		if !ok {
			now = time.Now()
		}
		ahead, err := strconv.Atoi(fl.Param())
		if err != nil {
			return false
		}
		return fl.Field().Int() <= int64(now.Year()+ahead)
	})
	return v
}

// Validate checks the fields a new item must carry. The repository itself stores
// whatever it is given.
func (i Item) Validate(now time.Time) error {
	err := validate.StructCtx(context.WithValue(context.Background(), clockKey{}, now), i)
	if err == nil {
		return nil
	}

	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return fmt.Errorf("%w: %v", ErrValidation, err)
	}

	problems := make([]string, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		switch fe.Tag() {
		case tagNotBlank:
			problems = append(problems, fe.Field()+" is required")
		case "gte", tagYearAhead:
			problems = append(problems, fmt.Sprintf("%s must be between %d and %d", fe.Field(), minYear, now.Year()+maxYearsAhead))
		default:
			problems = append(problems, fe.Field()+" is invalid")
		}
	}
	return fmt.Errorf("%w: %s", ErrValidation, strings.Join(problems, ", "))
}
