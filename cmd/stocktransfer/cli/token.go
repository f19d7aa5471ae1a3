package cli

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/odyssey-erp/stocktransfer/internal/auth"
)

// TokenOptions defines the flags of the token command.
type TokenOptions struct {
	Secret    string
	CompanyID int64
	UserID    int64
	TTL       time.Duration
	Stdout    io.Writer
	Stderr    io.Writer
}

// TokenCommand prints a signed bearer token for an operator or a test client.
func TokenCommand(opts TokenOptions) int {
	if opts.Stdout == nil {
		opts.Stdout = os.Stdout
	}
	if opts.Stderr == nil {
		opts.Stderr = os.Stderr
	}
	if opts.CompanyID <= 0 || opts.UserID <= 0 {
		_, _ = fmt.Fprintln(opts.Stderr, "token: --company and --user are required and must be positive")
		return 2
	}
	if opts.TTL <= 0 {
		opts.TTL = auth.DefaultTokenExpiry
	}
	token, err := auth.GenerateToken(opts.Secret, opts.CompanyID, opts.UserID, opts.TTL)
	if err != nil {
		_, _ = fmt.Fprintf(opts.Stderr, "token: %v\n", err)
		return 1
	}
	_, _ = fmt.Fprintln(opts.Stdout, token)
	return 0
}
