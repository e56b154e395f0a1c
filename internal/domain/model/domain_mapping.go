package model

import (
	"fmt"
	"math/rand"
	"strings"
	"time"
	"unicode"
)

type DomainType string

const (
	DomainTypeSubdomain DomainType = "subdomain"
	DomainTypeCustom    DomainType = "custom"
)

type SSLStatus string

const (
	SSLStatusPending SSLStatus = "pending"
	SSLStatusActive  SSLStatus = "active"
	SSLStatusFailed  SSLStatus = "failed"
)

// DomainMapping is the persisted routing assignment for a project. Created
// once on the first successful deploy; later deploys update TargetURL in
// place instead of recreating it.
type DomainMapping struct {
	ID         string
	ProjectID  string
	DomainType DomainType
	Slug       string
	TargetURL  string
	SSLStatus  SSLStatus
	IsPrimary  bool
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

const slugMaxLen = 40

// Slugify turns a project name into a routable subdomain label: lowercase
// alphanumerics and hyphens, no leading/trailing hyphen, bounded length.
func Slugify(name string) string {
	var b strings.Builder
	lastHyphen := true // swallow leading separators
	for _, r := range strings.ToLower(name) {
		switch {
		case unicode.IsLetter(r) && r < 128, unicode.IsDigit(r) && r < 128:
			b.WriteRune(r)
			lastHyphen = false
		default:
			if !lastHyphen {
				b.WriteByte('-')
				lastHyphen = true
			}
		}
		if b.Len() >= slugMaxLen {
			break
		}
	}
	s := strings.Trim(b.String(), "-")
	if s == "" {
		s = "app"
	}
	return s
}

// SuffixSlug appends a short random suffix, used when a slug collides with
// an existing mapping.
func SuffixSlug(slug string) string {
	return fmt.Sprintf("%s-%04d", slug, rand.Intn(10000))
}
