package models

import (
	"fmt"
	"strings"
)

// Tool names understood by the dispatcher.
const (
	ToolWebsiteSearch = "website_search"
	ToolQueryDatabase = "query_database"
)

// ToolArgs is the typed argument bundle of one tool call.
type ToolArgs interface {
	ToolName() string
}

// WebsiteSearchArgs are the arguments of website_search.
type WebsiteSearchArgs struct {
	WebsiteURL string
}

func (WebsiteSearchArgs) ToolName() string { return ToolWebsiteSearch }

// QueryDatabaseArgs are the arguments of query_database.
type QueryDatabaseArgs struct {
	UserQuery string
}

func (QueryDatabaseArgs) ToolName() string { return ToolQueryDatabase }

// RawArgs carries the arguments of a tool this build does not know about.
type RawArgs struct {
	Name   string
	Values map[string]interface{}
}

func (r RawArgs) ToolName() string { return r.Name }

// ParseToolArgs validates the loose argument map the model produced against
// the known tool schemas. The returned error text is meant to be shown to
// the model.
func ParseToolArgs(name string, args map[string]interface{}) (ToolArgs, error) {
	switch name {
	case ToolWebsiteSearch:
		url, err := requiredString(args, "website_url")
		if err != nil {
			return nil, fmt.Errorf("website_url is required for website_search function")
		}
		return WebsiteSearchArgs{WebsiteURL: url}, nil
	case ToolQueryDatabase:
		q, err := requiredString(args, "user_query")
		if err != nil {
			return nil, fmt.Errorf("user_query is required for query_database function")
		}
		return QueryDatabaseArgs{UserQuery: q}, nil
	default:
		return RawArgs{Name: name, Values: args}, nil
	}
}

func requiredString(args map[string]interface{}, key string) (string, error) {
	v, ok := args[key]
	if !ok {
		return "", fmt.Errorf("missing %s", key)
	}
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("%s must be a string, got %T", key, v)
	}
	s = strings.TrimSpace(s)
	if s == "" {
		return "", fmt.Errorf("%s is empty", key)
	}
	return s, nil
}
