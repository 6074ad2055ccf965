// filesharectl administers the user base and reads statistics, working
// directly against the server's database file.
package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/konorlevich/fileshare/internal/server/database"
)

const usage = `usage: filesharectl [-db <file>] <command> [args]

commands:
  adduser <username> <password>
  deluser <username>
  users
  stats [day|week|month|year]
`

func main() {
	dbFile := flag.String("db", database.DefaultFile, "path to the server database")
	flag.Parse()

	args := flag.Args()
	if len(args) == 0 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	db, err := database.NewDb(*dbFile)
	if err != nil {
		log.WithError(err).Fatal("failed to open database")
	}
	repo := database.NewRepository(db)

	switch args[0] {
	case "adduser":
		if len(args) != 3 {
			fmt.Fprint(os.Stderr, usage)
			os.Exit(2)
		}
		if err := repo.CreateUser(args[1], args[2]); err != nil {
			log.WithError(err).Fatal("can't add user")
		}
		fmt.Printf("added user '%s'\n", args[1])
	case "deluser":
		if len(args) != 2 {
			fmt.Fprint(os.Stderr, usage)
			os.Exit(2)
		}
		if err := repo.DeleteUser(args[1]); err != nil {
			log.WithError(err).Fatal("can't delete user")
		}
		fmt.Printf("deleted user '%s'\n", args[1])
	case "users":
		users, err := repo.ListUsers()
		if err != nil {
			log.WithError(err).Fatal("can't list users")
		}
		for _, u := range users {
			fmt.Println(u)
		}
	case "stats":
		timeframe := "month"
		if len(args) > 1 {
			timeframe = args[1]
		}
		since, err := sinceFor(timeframe)
		if err != nil {
			fmt.Fprint(os.Stderr, usage)
			os.Exit(2)
		}
		stats, err := repo.AggregateStats(since)
		if err != nil {
			log.WithError(err).Fatal("can't aggregate stats")
		}
		printStats(timeframe, stats)
	default:
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}
}

func sinceFor(timeframe string) (time.Time, error) {
	now := time.Now()
	switch timeframe {
	case "day":
		return now.AddDate(0, 0, -1), nil
	case "week":
		return now.AddDate(0, 0, -7), nil
	case "month":
		return now.AddDate(0, 0, -30), nil
	case "year":
		return now.AddDate(0, 0, -365), nil
	}
	return time.Time{}, fmt.Errorf("unknown timeframe %q", timeframe)
}

func printStats(timeframe string, stats *database.Stats) {
	fmt.Printf("Downloads (last %s): %d\n", timeframe, stats.Downloads)
	fmt.Printf("Total days with downloads: %d\n", stats.DownloadDays)
	fmt.Printf("Total files: %d\n", stats.TotalFiles)
	fmt.Printf("Total storage: %.2f GB\n", float64(stats.StorageBytes)/(1<<30))
	fmt.Println("Files per user:")
	for user, n := range stats.FilesPerUser {
		fmt.Printf("  %s: %d\n", user, n)
	}
	fmt.Println("Downloads per user:")
	for user, n := range stats.DownloadsPerUser {
		fmt.Printf("  %s: %d\n", user, n)
	}
}
