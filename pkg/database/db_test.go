package database

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestWithSessionOptions(t *testing.T) {
	base := "postgres://u:p@localhost:5432/truco?sslmode=disable"

	assert.Equal(t, base, withSessionOptions(Config{DSN: base}))

	got := withSessionOptions(Config{DSN: base, TimeZone: "UTC"})
	assert.Equal(t, base+"&options=-c%20TimeZone=UTC", got)

	got = withSessionOptions(Config{DSN: "postgres://localhost/truco", ClientEncoding: "UTF8"})
	assert.Equal(t, "postgres://localhost/truco?options=-c%20client_encoding=UTF8", got)
}
