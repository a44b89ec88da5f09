package history

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// RecordPace adds one synthesis measurement for voice. Paces are aggregated
// as total audio seconds over total synthesis seconds.
func (s *Store) RecordPace(ctx context.Context, voice string, audioSeconds, synthSeconds float64) error {
	voice = strings.TrimSpace(voice)
	if voice == "" {
		return errors.New("record pace: voice is required")
	}
	if audioSeconds <= 0 || synthSeconds <= 0 {
		return nil
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO voice_paces (voice, audio_seconds, synth_seconds, samples, updated_at)
        VALUES (?, ?, ?, 1, ?)
        ON CONFLICT(voice) DO UPDATE SET
            audio_seconds = audio_seconds + excluded.audio_seconds,
            synth_seconds = synth_seconds + excluded.synth_seconds,
            samples = samples + 1,
            updated_at = excluded.updated_at`,
		voice, audioSeconds, synthSeconds, time.Now().UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("record pace: %w", err)
	}
	return nil
}

// VoicePaces returns audio seconds produced per synthesis second, per voice.
func (s *Store) VoicePaces(ctx context.Context) (map[string]float64, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT voice, audio_seconds, synth_seconds FROM voice_paces")
	if err != nil {
		return nil, fmt.Errorf("query paces: %w", err)
	}
	defer rows.Close()

	paces := make(map[string]float64)
	for rows.Next() {
		var (
			voice string
			audio float64
			synth float64
		)
		if err := rows.Scan(&voice, &audio, &synth); err != nil {
			return nil, fmt.Errorf("scan pace: %w", err)
		}
		if synth > 0 && audio > 0 {
			paces[voice] = audio / synth
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate paces: %w", err)
	}
	return paces, nil
}
