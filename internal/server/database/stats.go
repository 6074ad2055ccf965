package database

import "time"

// Stats is the aggregate view served to the admin tool.
type Stats struct {
	Downloads        int64
	DownloadDays     int64
	TotalFiles       int64
	StorageBytes     int64
	FilesPerUser     map[string]int64
	DownloadsPerUser map[string]int64
}

type userCount struct {
	User  string
	Count int64
}

// AggregateStats summarizes the download log and file registry. Download
// counts are limited to entries at or after since; file and storage totals
// cover everything.
func (r *Repository) AggregateStats(since time.Time) (*Stats, error) {
	s := &Stats{
		FilesPerUser:     map[string]int64{},
		DownloadsPerUser: map[string]int64{},
	}

	if err := r.db.Model(&Download{}).
		Where("timestamp >= ?", since).
		Count(&s.Downloads).Error; err != nil {
		return nil, err
	}

	if err := r.db.Model(&Download{}).
		Where("timestamp >= ?", since).
		Distinct("DATE(timestamp)").
		Count(&s.DownloadDays).Error; err != nil {
		return nil, err
	}

	type fileTotals struct {
		Total int64
		Bytes int64
	}
	ft := &fileTotals{}
	if err := r.db.Model(&File{}).
		Select("COUNT(*) AS total, COALESCE(SUM(size), 0) AS bytes").
		Scan(ft).Error; err != nil {
		return nil, err
	}
	s.TotalFiles, s.StorageBytes = ft.Total, ft.Bytes

	var perUser []userCount
	if err := r.db.Model(&File{}).
		Select("owner AS user, COUNT(*) AS count").
		Group("owner").
		Scan(&perUser).Error; err != nil {
		return nil, err
	}
	for _, uc := range perUser {
		s.FilesPerUser[uc.User] = uc.Count
	}

	perUser = perUser[:0]
	if err := r.db.Model(&Download{}).
		Select("username AS user, COUNT(*) AS count").
		Where("timestamp >= ?", since).
		Group("username").
		Scan(&perUser).Error; err != nil {
		return nil, err
	}
	for _, uc := range perUser {
		s.DownloadsPerUser[uc.User] = uc.Count
	}

	return s, nil
}
