package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/stemsi/draftsync/internal/config"
	"github.com/stemsi/draftsync/internal/database"
	"github.com/stemsi/draftsync/internal/logger"
	"github.com/stemsi/draftsync/internal/model"
	"github.com/stemsi/draftsync/internal/repository"
)

var names = []string{
	"Budi Santoso", "Siti Aminah", "Andi Pratama", "Rina Wati", "Joko Susilo",
	"Ayu Lestari", "Dodi Kusuma", "Eka Putri", "Fahri Hamzah", "Gita Savitri",
	"Hendra Gunawan", "Ika Sari", "Jamal Mirdad", "Kiki Fatmala", "Lukman Hakim",
	"Maya Septiana", "Nanda Pratama", "Oki Setiana", "Putri Dian", "Qori Maharani",
}

func main() {
	var (
		students int
		title    string
		minutes  int
	)
	flag.IntVar(&students, "students", len(names), "Number of students to seed (max 20)")
	flag.StringVar(&title, "exam", "Latihan Pemrograman Dasar", "Title of the published exam to create; empty skips it")
	flag.IntVar(&minutes, "minutes", 60, "Exam duration in minutes")
	flag.Parse()

	cfg := config.Load()
	log := logger.Setup(cfg.LogLevel, cfg.LogFormat, os.Stderr)
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	pool, err := database.NewPostgresPool(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to PostgreSQL")
	}
	defer pool.Close()

	studentRepo := repository.NewStudentRepository(pool)
	examRepo := repository.NewExamRepository(pool)

	if students > len(names) {
		students = len(names)
	}

	fmt.Printf("=== Seeding %d Students ===\n", students)
	successCount := 0
	for i := 0; i < students; i++ {
		student := &model.Student{
			NISN: fmt.Sprintf("user%d", i+1),
			Name: names[i],
		}
		if err := studentRepo.Upsert(ctx, student); err != nil {
			fmt.Printf("Error creating student %s (NISN: %s): %v\n", student.Name, student.NISN, err)
			continue
		}
		successCount++
		fmt.Printf("  %-8s id=%-4d %s\n", student.NISN, student.ID, student.Name)
	}
	fmt.Printf("Seeded %d/%d students.\n", successCount, students)

	if title == "" {
		return
	}
	exam := &model.Exam{
		Title:           title,
		DurationMinutes: minutes,
		Status:          model.ExamStatusPublished,
	}
	if err := examRepo.Create(ctx, exam); err != nil {
		log.Fatal().Err(err).Msg("Failed to create exam")
	}
	fmt.Printf("\nCreated published exam %q (%d min): %s\n", exam.Title, exam.DurationMinutes, exam.ID)
}
