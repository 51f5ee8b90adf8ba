package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/stemsi/draftsync/internal/config"
	"github.com/stemsi/draftsync/internal/database"
	"github.com/stemsi/draftsync/internal/logger"
	"github.com/stemsi/draftsync/internal/repository"
	"github.com/stemsi/draftsync/internal/service"
	"golang.org/x/term"
)

// issue-token signs a student token and registers it as the student's only
// session. Any token issued to that student before stops working. With
// -revoke it signs the student out everywhere instead.
func main() {
	var (
		nisn   string
		revoke bool
	)
	flag.StringVar(&nisn, "nisn", "", "Student NISN (prompted for when omitted)")
	flag.BoolVar(&revoke, "revoke", false, "Revoke the student's current session instead of issuing a token")
	flag.Parse()

	// ─── Load Configuration ────────────────────────────────────────────
	cfg := config.Load()

	// ─── Initialize Logger ─────────────────────────────────────────────
	log := logger.Setup(cfg.LogLevel, cfg.LogFormat, os.Stderr)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	interactive := term.IsTerminal(int(os.Stdout.Fd()))

	// ─── CLI Input ─────────────────────────────────────────────────────
	if nisn == "" {
		fmt.Fprint(os.Stderr, "Enter student NISN: ")
		line, _ := bufio.NewReader(os.Stdin).ReadString('\n')
		nisn = strings.TrimSpace(line)
	}
	if nisn == "" {
		fmt.Fprintln(os.Stderr, "Error: NISN is required")
		os.Exit(2)
	}

	// ─── Connect to PostgreSQL and Redis ───────────────────────────────
	pool, err := database.NewPostgresPool(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to PostgreSQL")
	}
	defer pool.Close()

	rdb, err := database.NewRedisClient(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to Redis")
	}
	defer rdb.Close()

	// ─── Issue ─────────────────────────────────────────────────────────
	student, err := repository.NewStudentRepository(pool).GetByNISN(ctx, nisn)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			log.Fatal().Str("nisn", nisn).Msg("Student not found")
		}
		log.Fatal().Err(err).Msg("Failed to look up student")
	}

	auth := service.NewAuthService(cfg, rdb)
	if revoke {
		if err := auth.ResetStudentSession(ctx, student.ID); err != nil {
			log.Fatal().Err(err).Msg("Failed to revoke session")
		}
		log.Info().Str("nisn", student.NISN).Int("student_id", student.ID).Msg("Session revoked")
		return
	}

	token, err := auth.IssueStudentToken(ctx, student.ID)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to issue token")
	}

	if !interactive {
		// Piped: print only the token so it can be captured.
		fmt.Println(token)
		return
	}
	fmt.Printf("Token for %s (%s), valid for %s:\n\n%s\n\n", student.Name, student.NISN, cfg.JWTExpiry, token)
	fmt.Println("Use it with: draftctl auth login")
}
