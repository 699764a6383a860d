// Command submitctl is an operator CLI for the exec-worker system: it
// enqueues a test submission directly into the store + broker and
// checks worker health.
package main

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/spf13/cobra"

	"github.com/oj-platform/exec-worker/internal/broker"
	"github.com/oj-platform/exec-worker/internal/config"
	"github.com/oj-platform/exec-worker/internal/store"
)

var (
	language  string
	input     string
	queueName string
	opsAddr   string
)

func main() {
	root := &cobra.Command{
		Use:   "submitctl",
		Short: "Operator CLI for the exec-worker submission pipeline",
	}

	root.PersistentFlags().StringVar(&opsAddr, "ops-addr", "http://localhost:9090", "Worker ops server address")

	submitCmd := &cobra.Command{
		Use:   "submit [code-file]",
		Short: "Write a Submission Record and enqueue a message for it",
		Args:  cobra.ExactArgs(1),
		RunE:  runSubmit,
	}
	submitCmd.Flags().StringVarP(&language, "language", "l", "python", "Language tag")
	submitCmd.Flags().StringVar(&input, "stdin", "", "Stdin payload for the single test case")
	submitCmd.Flags().StringVar(&queueName, "queue", "", "Queue name (defaults to CEE_COMPILER_QUEUE_NAME)")
	root.AddCommand(submitCmd)

	root.AddCommand(&cobra.Command{
		Use:   "health",
		Short: "Check worker health",
		RunE:  runHealth,
	})

	root.AddCommand(&cobra.Command{
		Use:   "peek [submission-id]",
		Short: "Print a submission record from the store",
		Args:  cobra.ExactArgs(1),
		RunE:  runPeek,
	})

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func runSubmit(_ *cobra.Command, args []string) error {
	codeBytes, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("reading code file: %w", err)
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	st, err := store.New(ctx, cfg)
	if err != nil {
		return fmt.Errorf("connecting to store: %w", err)
	}
	defer st.Close()

	submissionID := uuid.NewString()
	rec := &store.Record{
		Code:     base64.StdEncoding.EncodeToString(codeBytes),
		Language: language,
		Input:    []string{base64.StdEncoding.EncodeToString([]byte(input))},
		Replace:  [][]store.ReplacePair{{}},
	}

	if err := st.Set(ctx, submissionID, rec); err != nil {
		return fmt.Errorf("writing submission record: %w", err)
	}

	q := queueName
	if q == "" {
		q = cfg.CompilerQueueName
	}

	if err := publish(cfg, q, submissionID); err != nil {
		return fmt.Errorf("publishing envelope: %w", err)
	}

	fmt.Printf("submitted %s to queue %q\n", submissionID, q)
	return nil
}

func publish(cfg *config.Config, queue, submissionID string) error {
	conn, err := amqp.Dial(broker.DialURL(cfg))
	if err != nil {
		return err
	}
	defer conn.Close()

	ch, err := conn.Channel()
	if err != nil {
		return err
	}
	defer ch.Close()

	if _, err := ch.QueueDeclare(queue, true, false, false, false, nil); err != nil {
		return err
	}

	body, err := json.Marshal(map[string]string{"submission_id": submissionID})
	if err != nil {
		return err
	}

	return ch.PublishWithContext(context.Background(), "", queue, false, false, amqp.Publishing{
		ContentType: "application/json",
		Body:        body,
	})
}

func runPeek(_ *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	st, err := store.New(ctx, cfg)
	if err != nil {
		return fmt.Errorf("connecting to store: %w", err)
	}
	defer st.Close()

	rec, err := st.Get(ctx, args[0])
	if err != nil {
		return fmt.Errorf("reading submission record: %w", err)
	}

	formatted, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(formatted))
	return nil
}

func runHealth(_ *cobra.Command, _ []string) error {
	resp, err := http.Get(opsAddr + "/health")
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("reading response: %w", err)
	}

	var result map[string]any
	if err := json.Unmarshal(data, &result); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	formatted, _ := json.MarshalIndent(result, "", "  ")
	fmt.Println(string(formatted))

	if resp.StatusCode != http.StatusOK {
		os.Exit(1)
	}
	return nil
}
