package publish

import (
	"encoding/xml"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"
)

const (
	itunesNamespace = "http://www.itunes.com/dtds/podcast-1.0.dtd"
	addictNamespace = "http://playrunaddict.com/rss/1.0"
)

// FeedItem is one episode entry in the podcast feed. Key is the stable
// guid; publishing a new revision replaces the entry in place.
type FeedItem struct {
	Key                     string
	Title                   string
	EnclosureURL            string
	LengthSeconds           int
	DeclaredDurationSeconds float64
	Published               time.Time
}

// Feed is the mutable channel document maintained on Drive.
type Feed struct {
	ChannelTitle string
	Description  string
	Link         string
	Items        []FeedItem
}

// NewFeed creates an empty feed with default channel metadata.
func NewFeed(channelTitle string) Feed {
	return Feed{
		ChannelTitle: channelTitle,
		Description:  "Custom podcast feed generated from processed audio files",
		Link:         "https://playrunaddict.com",
	}
}

// Upsert replaces the item with the same key, or appends when the key is
// new. It returns the previous enclosure URL when an item was replaced.
func (f *Feed) Upsert(item FeedItem) (previousURL string, replaced bool) {
	for i, existing := range f.Items {
		if existing.Key == item.Key {
			f.Items[i] = item
			return existing.EnclosureURL, true
		}
	}
	f.Items = append(f.Items, item)
	return "", false
}

type feedDoc struct {
	XMLName  xml.Name   `xml:"rss"`
	Version  string     `xml:"version,attr"`
	ItunesNS string     `xml:"xmlns:itunes,attr"`
	AddictNS string     `xml:"xmlns:playrunaddict,attr"`
	Channel  channelDoc `xml:"channel"`
}

type channelDoc struct {
	Title         string    `xml:"title"`
	Description   string    `xml:"description"`
	Link          string    `xml:"link"`
	Language      string    `xml:"language"`
	LastBuildDate string    `xml:"lastBuildDate"`
	Author        string    `xml:"itunes:author"`
	Summary       string    `xml:"itunes:summary"`
	Explicit      string    `xml:"itunes:explicit"`
	Items         []itemDoc `xml:"item"`
}

type itemDoc struct {
	Title            string       `xml:"title"`
	GUID             guidDoc      `xml:"guid"`
	OriginalDuration string       `xml:"playrunaddict:originalduration"`
	PubDate          string       `xml:"pubDate,omitempty"`
	Enclosure        enclosureDoc `xml:"enclosure"`
}

type guidDoc struct {
	IsPermaLink string `xml:"isPermaLink,attr"`
	Value       string `xml:",chardata"`
}

type enclosureDoc struct {
	URL    string `xml:"url,attr"`
	Type   string `xml:"type,attr"`
	Length string `xml:"length,attr"`
}

// Render serializes the feed as RSS 2.0 with the custom originalduration
// extension carrying the pre-speedup declared total.
func (f Feed) Render(now time.Time) (string, error) {
	doc := feedDoc{
		Version:  "2.0",
		ItunesNS: itunesNamespace,
		AddictNS: addictNamespace,
		Channel: channelDoc{
			Title:         f.ChannelTitle,
			Description:   f.Description,
			Link:          f.Link,
			Language:      "en-us",
			LastBuildDate: now.UTC().Format(time.RFC1123Z),
			Author:        "Playrun Addict",
			Summary:       f.Description,
			Explicit:      "false",
		},
	}
	for _, item := range f.Items {
		entry := itemDoc{
			Title:            item.Title,
			GUID:             guidDoc{IsPermaLink: "false", Value: item.Key},
			OriginalDuration: strconv.FormatFloat(item.DeclaredDurationSeconds, 'f', -1, 64),
			Enclosure: enclosureDoc{
				URL:    item.EnclosureURL,
				Type:   "audio/mpeg",
				Length: strconv.Itoa(item.LengthSeconds),
			},
		}
		if !item.Published.IsZero() {
			entry.PubDate = item.Published.UTC().Format(time.RFC1123Z)
		}
		doc.Channel.Items = append(doc.Channel.Items, entry)
	}

	rendered, err := xml.MarshalIndent(doc, "", "  ")
	if err != nil {
		return "", fmt.Errorf("render feed: %w", err)
	}
	return xml.Header + string(rendered) + "\n", nil
}

// Element names in these parse-side types carry no namespace so the
// decoder matches the prefixed originalduration element by local name.
type parsedFeed struct {
	XMLName xml.Name `xml:"rss"`
	Channel struct {
		Title       string `xml:"title"`
		Description string `xml:"description"`
		Link        string `xml:"link"`
		Items       []struct {
			Title            string `xml:"title"`
			GUID             string `xml:"guid"`
			OriginalDuration string `xml:"originalduration"`
			PubDate          string `xml:"pubDate"`
			Enclosure        struct {
				URL    string `xml:"url,attr"`
				Length string `xml:"length,attr"`
			} `xml:"enclosure"`
		} `xml:"item"`
	} `xml:"channel"`
}

// ParseFeed decodes a previously rendered feed document.
func ParseFeed(content string) (Feed, error) {
	var doc parsedFeed
	if err := xml.Unmarshal([]byte(content), &doc); err != nil {
		return Feed{}, fmt.Errorf("parse feed: %w", err)
	}

	feed := Feed{
		ChannelTitle: doc.Channel.Title,
		Description:  doc.Channel.Description,
		Link:         doc.Channel.Link,
	}
	for _, entry := range doc.Channel.Items {
		item := FeedItem{
			Key:          strings.TrimSpace(entry.GUID),
			Title:        entry.Title,
			EnclosureURL: entry.Enclosure.URL,
		}
		if length, err := strconv.Atoi(entry.Enclosure.Length); err == nil {
			item.LengthSeconds = length
		}
		if declared, err := strconv.ParseFloat(strings.TrimSpace(entry.OriginalDuration), 64); err == nil {
			item.DeclaredDurationSeconds = declared
		}
		if published, err := time.Parse(time.RFC1123Z, entry.PubDate); err == nil {
			item.Published = published
		}
		feed.Items = append(feed.Items, item)
	}
	return feed, nil
}

// DriveFileIDFromURL extracts the file id from a Drive download URL,
// returning empty for anything else.
func DriveFileIDFromURL(raw string) string {
	parsed, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	host := parsed.Hostname()
	if host != "drive.usercontent.google.com" && host != "drive.google.com" {
		return ""
	}
	return parsed.Query().Get("id")
}
