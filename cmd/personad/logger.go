package main

import (
	"os"

	tmlog "github.com/cometbft/cometbft/libs/log"
)

func newLogger(level string) (tmlog.Logger, error) {
	logger := tmlog.NewTMLogger(tmlog.NewSyncWriter(os.Stdout))
	option, err := tmlog.AllowLevel(level)
	if err != nil {
		return nil, err
	}
	return tmlog.NewFilter(logger, option), nil
}
