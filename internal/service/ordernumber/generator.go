// Package ordernumber выдаёт человекочитаемые номера заказов вида ORD-20250301-7KQ2M9XA.
package ordernumber

import (
	"context"
	"crypto/rand"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/vladislavdragonenkov/orderengine/internal/domain"
)

const (
	// DefaultPrefix используется, если префикс не задан.
	DefaultPrefix = "ORD"

	suffixLen = 8
	// В строке ULID первые 10 символов — время, остальные 16 — случайная часть.
	randomOffset = 10
)

// ExistsFunc проверяет, занят ли номер.
type ExistsFunc func(ctx context.Context, number string) (bool, error)

// Option настраивает Generator.
type Option func(*Generator)

// WithPrefix задаёт префикс номера.
func WithPrefix(prefix string) Option {
	return func(g *Generator) {
		if p := strings.TrimSpace(prefix); p != "" {
			g.prefix = strings.ToUpper(p)
		}
	}
}

// WithClock подменяет источник времени.
func WithClock(now func() time.Time) Option {
	return func(g *Generator) {
		if now != nil {
			g.now = now
		}
	}
}

// WithEntropy подменяет источник случайности.
func WithEntropy(entropy io.Reader) Option {
	return func(g *Generator) {
		if entropy != nil {
			g.entropy = entropy
		}
	}
}

// Generator формирует номера PREFIX-YYYYMMDD-XXXXXXXX.
// Проверка существования — лишь оптимизация: уникальность гарантирует индекс хранилища.
type Generator struct {
	prefix  string
	now     func() time.Time
	entropy io.Reader
}

// New создаёт генератор с crypto/rand в качестве энтропии.
func New(opts ...Option) *Generator {
	g := &Generator{
		prefix:  DefaultPrefix,
		now:     time.Now,
		entropy: rand.Reader,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Candidate формирует номер без проверки занятости.
func (g *Generator) Candidate() (string, error) {
	now := g.now().UTC()
	id, err := ulid.New(ulid.Timestamp(now), g.entropy)
	if err != nil {
		return "", fmt.Errorf("generate order number entropy: %w", err)
	}
	suffix := id.String()[randomOffset : randomOffset+suffixLen]
	return fmt.Sprintf("%s-%s-%s", g.prefix, now.Format("20060102"), suffix), nil
}

// Generate выдаёт свободный номер. При коллизии номер генерируется ещё ровно один раз,
// повторная коллизия возвращает domain.ErrConflict.
func (g *Generator) Generate(ctx context.Context, exists ExistsFunc) (string, error) {
	for attempt := 0; attempt < 2; attempt++ {
		number, err := g.Candidate()
		if err != nil {
			return "", err
		}
		if exists == nil {
			return number, nil
		}

		taken, err := exists(ctx, number)
		if err != nil {
			return "", domain.Persistence("check order number", err)
		}
		if !taken {
			return number, nil
		}
	}
	return "", fmt.Errorf("%w: order number collided twice", domain.ErrConflict)
}
