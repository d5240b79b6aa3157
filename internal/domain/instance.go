package domain

import (
	"context"
	"fmt"
	"strings"
)

// Protocol identifies the kind of target database an instance speaks.
type Protocol string

const (
	// ProtocolRelational is a SQL target reached through a connection pool.
	ProtocolRelational Protocol = "relational"
	// ProtocolDocument is a schema-less document store; one connection
	// multiplexes all of its databases.
	ProtocolDocument Protocol = "document"
)

// ParseProtocol normalises a user-supplied protocol name. Canonical and
// colloquial spellings are accepted case-insensitively; anything else is a
// ValidationError.
func ParseProtocol(s string) (Protocol, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "relational", "sql", "postgres", "postgresql":
		return ProtocolRelational, nil
	case "document", "mongo", "mongodb", "nosql":
		return ProtocolDocument, nil
	default:
		return "", ErrValidation("unknown protocol %q (expected relational or document)", s)
	}
}

// TargetInstance identifies one configured database server. It is owned by
// the external instance registry; the engine only reads it.
type TargetInstance struct {
	ID               string
	Name             string
	Protocol         Protocol
	Host             string
	Port             int
	Username         string
	Password         string
	ConnectionString string // opaque URI; takes precedence over host/port fields
	Databases        []string
}

// ConnString returns the connection URI for the instance, building one from
// the discrete fields when no opaque string was supplied.
func (i *TargetInstance) ConnString(database string) string {
	if i.ConnectionString != "" {
		return i.ConnectionString
	}
	switch i.Protocol {
	case ProtocolDocument:
		if i.Username != "" {
			return fmt.Sprintf("mongodb://%s:%s@%s:%d", i.Username, i.Password, i.Host, i.Port)
		}
		return fmt.Sprintf("mongodb://%s:%d", i.Host, i.Port)
	default:
		return fmt.Sprintf("postgres://%s:%s@%s:%d/%s", i.Username, i.Password, i.Host, i.Port, database)
	}
}

// HasDatabase reports whether the instance lists the given database as
// reachable. An empty list means the instance does not restrict databases.
func (i *TargetInstance) HasDatabase(name string) bool {
	if len(i.Databases) == 0 {
		return true
	}
	for _, db := range i.Databases {
		if db == name {
			return true
		}
	}
	return false
}

// InstanceResolver looks up target instances by id. It is implemented by the
// approval-workflow data store, which owns instance records and credentials.
type InstanceResolver interface {
	ResolveInstance(ctx context.Context, instanceID string) (*TargetInstance, error)
}
