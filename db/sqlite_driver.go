package db

import (
	"database/sql"
	"regexp"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/mattn/go-sqlite3"
)

// SQLiteDriverName is the custom driver name with REGEXP support
const SQLiteDriverName = "sqlite3_ripple"

const regexpCacheSize = 64

var regexpCache *lru.Cache[string, *regexp.Regexp]

func init() {
	var err error
	regexpCache, err = lru.New[string, *regexp.Regexp](regexpCacheSize)
	if err != nil {
		panic(err)
	}

	// Selections may use `column REGEXP 'pattern'`
	sql.Register(SQLiteDriverName, &sqlite3.SQLiteDriver{
		ConnectHook: func(conn *sqlite3.SQLiteConn) error {
			return conn.RegisterFunc("regexp", regexpMatch, true)
		},
	})
}

// regexpMatch returns true if text matches pattern. Compiled patterns are
// cached since SQLite calls the function once per row.
func regexpMatch(pattern, text string) (bool, error) {
	re, ok := regexpCache.Get(pattern)
	if !ok {
		var err error
		re, err = regexp.Compile(pattern)
		if err != nil {
			return false, err
		}
		regexpCache.Add(pattern, re)
	}
	return re.MatchString(text), nil
}
