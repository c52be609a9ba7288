// Copyright 2026 TechEmpower, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package dbconn

import (
	"database/sql"
	"fmt"
	"net/url"
	"strings"

	"github.com/TechEmpower/gemini-sub003/go/dbconfig"
)

// driverAliases maps legacy driver class identifiers (and URL schemes)
// to database/sql driver names, so configurations written for the old
// stack keep working unchanged.
var driverAliases = map[string]string{
	"org.postgresql.driver":    "postgres",
	"postgresql":               "postgres",
	"com.mysql.jdbc.driver":    "mysql",
	"com.mysql.cj.jdbc.driver": "mysql",
	"org.sqlite.jdbc":          "sqlite3",
	"sqlite":                   "sqlite3",
}

// DriverName resolves the configured driver identifier to a
// database/sql driver name. When no class is configured the URL prefix
// scheme is used instead. Returns "" when nothing is configured.
func DriverName(attrs dbconfig.Attributes) string {
	if attrs.DriverClass != "" {
		if name, ok := driverAliases[strings.ToLower(attrs.DriverClass)]; ok {
			return name
		}
		return attrs.DriverClass
	}
	scheme := strings.ToLower(strings.TrimSuffix(attrs.URLPrefix, "://"))
	if name, ok := driverAliases[scheme]; ok {
		return name
	}
	return scheme
}

// QuoteFor returns the identifier quote for a driver name. Discovered
// once at pool start and recorded on the published attributes.
func QuoteFor(driverName string) string {
	if driverName == "mysql" {
		return "`"
	}
	return `"`
}

// BuildDSN assembles the data source name: URL prefix + connect string,
// with credentials injected into the authority for URL-style DSNs that
// do not already carry user info. Non-URL connect strings (sqlite file
// paths, native mysql DSNs) pass through untouched.
func BuildDSN(attrs dbconfig.Attributes) (string, error) {
	if !attrs.CanConnect() {
		return "", ErrNotConfigured
	}

	dsn := attrs.URLPrefix + attrs.ConnectString
	if attrs.LoginName == "" {
		return dsn, nil
	}

	i := strings.Index(dsn, "://")
	if i < 0 {
		return dsn, nil
	}
	rest := dsn[i+3:]
	if strings.Contains(rest, "@") {
		return dsn, nil
	}

	user := url.User(attrs.LoginName)
	if attrs.LoginPass != "" {
		user = url.UserPassword(attrs.LoginName, attrs.LoginPass)
	}
	return dsn[:i+3] + user.String() + "@" + rest, nil
}

// OpenHandle opens the shared database handle a pool generation pins
// its sessions from. Idle reuse inside database/sql is disabled: every
// session the pool lets go of closes its socket, so profile close means
// a physical close. No open cap is set here; the pool enforces its own
// maximum and detached connections are deliberately unbounded.
func OpenHandle(attrs dbconfig.Attributes) (*sql.DB, error) {
	dsn, err := BuildDSN(attrs)
	if err != nil {
		return nil, err
	}
	name := DriverName(attrs)
	if name == "" {
		return nil, ErrNotConfigured
	}

	db, err := sql.Open(name, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s handle: %w", name, err)
	}
	db.SetMaxIdleConns(0)
	db.SetConnMaxLifetime(0)
	return db, nil
}
