package cmd

import (
	"errors"
	"fmt"
	"os"

	gferrors "github.com/fulmenhq/gofulmen/errors"
	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/fulmenhq/gofulmen/logging"
	"go.uber.org/zap"

	"github.com/admitcraft/admitcraft/internal/config"
	apperrors "github.com/admitcraft/admitcraft/internal/errors"
)

// exitFunc is swapped in tests.
var exitFunc = os.Exit

// ExitWithCode logs err with foundry exit code metadata and exits. A nil
// logger falls back to stderr.
func ExitWithCode(logger *logging.Logger, exitCode foundry.ExitCode, msg string, err error) {
	info, ok := foundry.GetExitCodeInfo(exitCode)
	if !ok {
		fmt.Fprintf(os.Stderr, "FATAL: %s: %v (exit code: %d)\n", msg, err, exitCode)
		exitFunc(int(exitCode))
		return
	}

	if logger == nil {
		writeFatal(msg, err)
		fmt.Fprintf(os.Stderr, "Exit Code: %d (%s) - %s\n", info.Code, info.Name, info.Description)
		exitFunc(info.Code)
		return
	}

	fields := []zap.Field{
		zap.Int("exit_code", info.Code),
		zap.String("exit_name", info.Name),
		zap.String("exit_category", info.Category),
	}
	if envelope := asEnvelope(err); envelope != nil {
		fields = append(fields,
			zap.String("error_code", envelope.Code),
			zap.String("error_message", envelope.Message),
			zap.String("correlation_id", envelope.CorrelationID),
		)
		if envelope.Context != nil {
			fields = append(fields, zap.Any("error_context", envelope.Context))
		}
		if original, ok := envelope.Original.(error); ok && original != nil {
			err = original
		}
	}
	fields = append(fields, zap.Error(err))
	logger.Error(msg, fields...)

	exitFunc(info.Code)
}

// ExitWithCodeStderr is a variant that writes to stderr without a logger.
// Use this for early failures before logger initialization.
func ExitWithCodeStderr(exitCode foundry.ExitCode, msg string, err error) {
	ExitWithCode(nil, exitCode, msg, err)
}

// ExitCodeFor picks the foundry exit code that best describes err.
func ExitCodeFor(err error) foundry.ExitCode {
	if err == nil {
		return 0
	}
	if errors.Is(err, config.ErrMissingAPIKey) {
		return foundry.ExitConfigInvalid
	}
	if envelope := asEnvelope(err); envelope != nil && envelope.Code == apperrors.CodeConfigInvalid {
		return foundry.ExitConfigInvalid
	}
	return foundry.ExitFailure
}

func writeFatal(msg string, err error) {
	if err == nil {
		fmt.Fprintf(os.Stderr, "FATAL: %s\n", msg)
		return
	}

	envelope := asEnvelope(err)
	if envelope == nil {
		fmt.Fprintf(os.Stderr, "FATAL: %s: %v\n", msg, err)
		return
	}

	fmt.Fprintf(os.Stderr, "FATAL: %s [%s]: %s (correlation: %s)\n",
		msg, envelope.Code, envelope.Message, envelope.CorrelationID)
	if original, ok := envelope.Original.(error); ok && original != nil {
		fmt.Fprintf(os.Stderr, "Underlying error: %v\n", original)
	}
}

func asEnvelope(err error) *gferrors.ErrorEnvelope {
	var envelope *gferrors.ErrorEnvelope
	if errors.As(err, &envelope) {
		return envelope
	}
	return nil
}
