package tools

import (
	"context"
	"database/sql"
	"fmt"
	"net"
	"net/url"
	"regexp"
	"strconv"
	"time"

	_ "github.com/microsoft/go-mssqldb"
)

// forbiddenSQL blocks state-changing or escape-hatch statements. Queries are
// read-only by contract; anything matching here is rejected before connect.
var forbiddenSQL = regexp.MustCompile(`(?i)\b(INSERT|UPDATE|DELETE|DROP|ALTER|CREATE|TRUNCATE|BACKUP|RESTORE|BULK\s+INSERT|xp_cmdshell|sp_configure|sp_start_job|sp_stop_job|OPENROWSET)\b`)

// MSSQLAdapter runs read-only inspection queries against a SQL Server target.
type MSSQLAdapter struct {
	MaxRows int
}

func (a *MSSQLAdapter) Definition() Definition {
	return Definition{
		Name:        "mssql_tool",
		Description: "Run a read-only SQL query against an authorized SQL Server instance.",
		Params: []Param{
			{Name: "host", Type: TypeString, Required: true, Description: "Database host"},
			{Name: "port", Type: TypeInt, Description: "Port (default 1433)"},
			{Name: "username", Type: TypeString, Required: true, Description: "Login username"},
			{Name: "password", Type: TypeString, Description: "Login password"},
			{Name: "database", Type: TypeString, Description: "Database name (default master)"},
			{Name: "query", Type: TypeString, Required: true, Description: "SELECT query to execute"},
		},
	}
}

func (a *MSSQLAdapter) Invoke(ctx context.Context, args map[string]interface{}) (map[string]interface{}, error) {
	query := StringArg(args, "query", "")
	if ok, reason := isSafeQuery(query); !ok {
		return nil, fmt.Errorf("query rejected: %s", reason)
	}

	db, err := openMSSQL(args)
	if err != nil {
		return nil, err
	}
	defer db.Close()

	rows, err := db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query failed: %w", err)
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("read columns: %w", err)
	}

	maxRows := a.MaxRows
	if maxRows <= 0 {
		maxRows = 1000
	}

	var results []map[string]interface{}
	truncated := false
	for rows.Next() {
		if len(results) >= maxRows {
			truncated = true
			break
		}
		values := make([]interface{}, len(columns))
		scanTargets := make([]interface{}, len(columns))
		for i := range values {
			scanTargets[i] = &values[i]
		}
		if err := rows.Scan(scanTargets...); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		row := make(map[string]interface{}, len(columns))
		for i, col := range columns {
			if b, ok := values[i].([]byte); ok {
				row[col] = string(b)
			} else {
				row[col] = values[i]
			}
		}
		results = append(results, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}

	return map[string]interface{}{
		"connection_driver": "go-mssqldb",
		"columns":           columns,
		"rows":              results,
		"row_count":         len(results),
		"truncated":         truncated,
	}, nil
}

// MSSQLCredentialAdapter validates credentials against a SQL Server instance
// without running any query beyond the login handshake.
type MSSQLCredentialAdapter struct{}

func (a *MSSQLCredentialAdapter) Definition() Definition {
	return Definition{
		Name:        "mssql_check_credentials",
		Description: "Check whether credentials authenticate against an authorized SQL Server instance.",
		Params: []Param{
			{Name: "host", Type: TypeString, Required: true, Description: "Database host"},
			{Name: "port", Type: TypeInt, Description: "Port (default 1433)"},
			{Name: "username", Type: TypeString, Required: true, Description: "Login username"},
			{Name: "password", Type: TypeString, Description: "Login password"},
			{Name: "database", Type: TypeString, Description: "Database name (default master)"},
		},
	}
}

func (a *MSSQLCredentialAdapter) Invoke(ctx context.Context, args map[string]interface{}) (map[string]interface{}, error) {
	host := StringArg(args, "host", "")
	port := IntArg(args, "port", 1433)

	addr := net.JoinHostPort(host, strconv.Itoa(port))
	dialer := net.Dialer{Timeout: 3 * time.Second}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return map[string]interface{}{
			"authenticated": false,
			"reason":        fmt.Sprintf("port %d closed or unreachable on %s", port, host),
		}, nil
	}
	conn.Close()

	db, err := openMSSQL(args)
	if err != nil {
		return nil, err
	}
	defer db.Close()

	if err := db.PingContext(ctx); err != nil {
		return map[string]interface{}{
			"authenticated": false,
			"reason":        err.Error(),
		}, nil
	}
	return map[string]interface{}{
		"authenticated": true,
		"host":          host,
		"port":          port,
		"database":      StringArg(args, "database", "master"),
	}, nil
}

func openMSSQL(args map[string]interface{}) (*sql.DB, error) {
	host := StringArg(args, "host", "")
	if host == "" {
		return nil, fmt.Errorf("host is required")
	}
	username := StringArg(args, "username", "")
	if username == "" {
		return nil, fmt.Errorf("username is required")
	}

	dsn := &url.URL{
		Scheme: "sqlserver",
		User:   url.UserPassword(username, StringArg(args, "password", "")),
		Host:   net.JoinHostPort(host, strconv.Itoa(IntArg(args, "port", 1433))),
		RawQuery: url.Values{
			"database": []string{StringArg(args, "database", "master")},
		}.Encode(),
	}
	db, err := sql.Open("sqlserver", dsn.String())
	if err != nil {
		return nil, fmt.Errorf("open connection: %w", err)
	}
	return db, nil
}

func isSafeQuery(query string) (bool, string) {
	if query == "" {
		return false, "empty query"
	}
	if loc := forbiddenSQL.FindString(query); loc != "" {
		return false, fmt.Sprintf("contains forbidden keyword %q", loc)
	}
	return true, ""
}
