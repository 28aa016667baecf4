package main

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/and161185/untis-auth/internal/errs"
	"github.com/and161185/untis-auth/internal/model"
	"github.com/spf13/cobra"
)

var rpcStudent int

var rpcCmd = &cobra.Command{
	Use:   "rpc <method> [params-json]",
	Short: "Call a JSON-RPC method with the session of a configured student entry",
	Args:  cobra.RangeArgs(1, 2),
	RunE:  runRPC,
}

func init() {
	rpcCmd.Flags().IntVar(&rpcStudent, "student", 0, "index of a configured student entry")
	rootCmd.AddCommand(rpcCmd)
}

func runRPC(cmd *cobra.Command, args []string) error {
	var params any = map[string]any{}
	if len(args) == 2 {
		if err := json.Unmarshal([]byte(args[1]), &params); err != nil {
			return fmt.Errorf("parse params: %w", err)
		}
	}

	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.close()

	if rpcStudent < 0 || rpcStudent >= len(a.cfg.Students) {
		return fmt.Errorf("no student entry %d (have %d)", rpcStudent, len(a.cfg.Students))
	}
	st := a.cfg.Students[rpcStudent]

	call := func() (json.RawMessage, error) {
		b, err := a.authenticate(cmd.Context(), st, false)
		if err != nil {
			return nil, fmt.Errorf("login failed: %w", err)
		}
		return a.tr.JSONRPC(cmd.Context(), model.RPCCall{
			Server:  b.Server,
			School:  b.School,
			Method:  args[0],
			Params:  params,
			Cookies: b.CookieString,
		})
	}

	res, err := call()
	if errors.Is(err, errs.ErrUnauthorized) {
		// The session died behind the cache; drop it and retry once with a clean login.
		a.broker.InvalidateCache(cacheKeyFor(st, a.cfg.Module))
		res, err = call()
	}
	if err != nil {
		return err
	}
	return printJSON(cmd.OutOrStdout(), res)
}
