package ftp

import (
	"reflect"
	"testing"
)

func TestParseList(t *testing.T) {
	t.Parallel()
	data := "total 12\r\n" +
		"drwxr-xr-x    2 ftp      ftp          4096 Jan 01 12:00 .\r\n" +
		"drwxr-xr-x    3 ftp      ftp          4096 Jan 01 12:00 ..\r\n" +
		"drwxr-xr-x    2 ftp      ftp          4096 Jan 01 12:00 music\r\n" +
		"-rw-r--r--    1 ftp      ftp       1048576 Mar 15  2023 song one.mp3\r\n" +
		"-rw-r--r--    1 owner        2048 Mar 15 10:30 report.PDF\r\n" +
		"lrwxrwxrwx    1 ftp      ftp            10 Mar 15 10:30 latest -> song one.mp3\r\n" +
		"garbage line\r\n" +
		"\r\n"

	got := ParseList([]byte(data))
	want := []Entry{
		{Name: "music", Dir: true, Size: 4096},
		{Name: "song one.mp3", Size: 1048576},
		{Name: "report.PDF", Size: 2048},
		{Name: "latest", Size: 10},
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("ParseList() =\n%+v\nwant\n%+v", got, want)
	}
}

func TestParseListLine(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name   string
		line   string
		want   Entry
		wantOK bool
	}{
		{
			name:   "nine fields",
			line:   "-rw-r--r-- 1 user group 1234 Jan 1 2020 file.txt",
			want:   Entry{Name: "file.txt", Size: 1234},
			wantOK: true,
		},
		{
			name:   "eight fields",
			line:   "-rw-r--r-- 1 user 1234 Jan 1 2020 file.txt",
			want:   Entry{Name: "file.txt", Size: 1234},
			wantOK: true,
		},
		{
			name:   "eight fields with spaced name",
			line:   "-rw-r--r-- 1 user 99 Jan 1 2020 my  file.txt",
			want:   Entry{Name: "my  file.txt", Size: 99},
			wantOK: true,
		},
		{
			name:   "directory",
			line:   "drwxr-xr-x 5 user group 160 Feb 2 09:00 photos",
			want:   Entry{Name: "photos", Dir: true, Size: 160},
			wantOK: true,
		},
		{name: "too short", line: "-rw-r--r-- 1 user 1234 Jan 1 x"},
		{name: "no size", line: "-rw-r--r-- 1 user group big Jan 1 2020 file.txt"},
		{name: "windows style", line: "01-01-20  12:00PM       1234 file.txt"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := parseListLine(tt.line)
			if ok != tt.wantOK {
				t.Fatalf("parseListLine(%q) ok = %v, want %v", tt.line, ok, tt.wantOK)
			}
			if ok && got != tt.want {
				t.Errorf("parseListLine(%q) = %+v, want %+v", tt.line, got, tt.want)
			}
		})
	}
}
