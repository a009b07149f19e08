package main

/*
a2kit works with retro floppy disk images: it decodes flux and nibble
level containers down to logical sectors, interprets the volume with the
DOS 3.x, ProDOS, Pascal, CP/M or FAT file system drivers, and moves file
content in and out through a portable file image representation.
*/

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/dfgordon/a2kit/disk"
	"github.com/dfgordon/a2kit/loggy"
)

func usage() {
	fmt.Printf(`%s <options>

Tool for working with retro floppy disk images (DSK/DO/PO, NIB, 2MG,
WOZ) and the file systems they carry.

`, path.Base(os.Args[0]))
	flag.PrintDefaults()
}

func binpath() string {

	if runtime.GOOS == "windows" {
		return os.Getenv("USERPROFILE") + "/a2kit"
	}
	return os.Getenv("HOME") + "/a2kit"

}

func init() {
	loggy.LogFolder = binpath() + "/logs/"
}

var withDisk = flag.String("with-disk", "", "Disk image to operate on")
var verbose = flag.Bool("verbose", false, "Log to stderr")
var queryDisk = flag.Bool("query", false, "Identify image container, format and file system (-with-disk)")
var fileCatalog = flag.Bool("catalog", false, "List disk contents (-with-disk)")
var catPattern = flag.String("pattern", "", "Wildcard pattern for -catalog")
var catPath = flag.String("path", "", "Directory path for catalog/file operations")
var fileExtract = flag.String("file-extract", "", "File to extract from disk (-with-disk)")
var extractOut = flag.String("out", "", "Local name for -file-extract (empty uses the catalog name)")
var asFimg = flag.Bool("fimg", false, "Emit -file-extract as file image JSON instead of raw bytes")
var filePut = flag.String("file-put", "", "Local file to put on disk (-with-disk)")
var putName = flag.String("as", "", "Name to store -file-put under (empty derives from the local name)")
var putType = flag.String("type", "", "Type label for -file-put (bas, bin, txt, ...; empty derives from the extension)")
var putAddr = flag.Int("addr", -1, "Load address / aux type for -file-put")
var fileDelete = flag.String("file-delete", "", "File to delete (-with-disk)")
var fileRename = flag.String("file-rename", "", "Rename, as old:new (-with-disk)")
var fileRetype = flag.String("file-retype", "", "Retype, as name:type (-with-disk)")
var fileLock = flag.String("file-lock", "", "File to lock (-with-disk)")
var fileUnlock = flag.String("file-unlock", "", "File to unlock (-with-disk)")
var fileMkdir = flag.String("dir-create", "", "Directory to create (-with-disk)")
var volStats = flag.Bool("stats", false, "Show volume usage (-with-disk)")
var globPattern = flag.String("glob", "", "Match catalog paths against a pattern (-with-disk)")
var batchGet = flag.String("batch-get", "", "Extract all files matching pattern (-with-disk, -dest)")
var batchDest = flag.String("dest", ".", "Destination directory for -batch-get")
var batchPut = flag.String("batch-put", "", "Put all files under a local directory (-with-disk)")
var batchDepth = flag.Int("batch-depth", 8, "Directory walk depth cap for batch operations")
var batchMax = flag.Int("batch-max", 4096, "Entry cap for batch operations")
var shell = flag.Bool("shell", false, "Start interactive mode")
var apiAddr = flag.String("api", "", "Serve read-only queries over HTTP on this address (-with-disk)")

func main() {

	flag.Usage = usage
	flag.Parse()

	loggy.ECHO = *verbose
	loggy.SetApp("a2kit")
	log := loggy.Get(0)

	if *shell {
		shellDo(*withDisk)
		return
	}

	if *withDisk == "" {
		usage()
		return
	}

	dsk, err := disk.NewDSKWrapper(*withDisk)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", *withDisk, err)
		os.Exit(1)
	}

	if *queryDisk {
		fmt.Printf("File:      %s\n", dsk.Filename)
		fmt.Printf("Format:    %s\n", dsk.Format)
		fmt.Printf("Order:     %s\n", dsk.Layout)
		fmt.Printf("Checksum:  %s\n", disk.Checksum(dsk.Data))
	}

	fs, err := disk.NewDiskFS(dsk)
	if err != nil {
		if *queryDisk {
			fmt.Printf("Family:    none detected\n")
			return
		}
		fmt.Fprintf(os.Stderr, "%s: %v\n", *withDisk, err)
		os.Exit(1)
	}

	if *queryDisk {
		fmt.Printf("Family:    %s\n", fs.Family())
	}

	dirty := false

	switch {

	case *fileCatalog:
		entries, err := fs.Catalog(*catPath, *catPattern)
		if err != nil {
			fail("catalog", err)
		}
		for _, e := range entries {
			lock := " "
			if e.Locked {
				lock = "*"
			}
			name := e.Name
			if e.Directory {
				name += "/"
			}
			if e.User >= 0 {
				name = fmt.Sprintf("%d:%s", e.User, name)
			}
			fmt.Printf("%s %-4s %8d %s\n", lock, e.Kind, e.Size, name)
		}

	case *fileExtract != "":
		entry, data, err := fs.ReadFile(*catPath, *fileExtract)
		if err != nil {
			fail("extract", err)
		}
		if *asFimg {
			fimg := disk.PackEntry(fs.Family(), *catPath, entry, data)
			j, err := json.MarshalIndent(fimg, "", "  ")
			if err != nil {
				fail("extract", err)
			}
			fmt.Println(string(j))
			break
		}
		local := *extractOut
		if local == "" {
			local = entry.Name
		}
		if err := os.WriteFile(local, data, 0644); err != nil {
			fail("extract", err)
		}
		log.Logf("extracted %s (%d bytes)", entry.Name, len(data))

	case *filePut != "":
		data, err := os.ReadFile(*filePut)
		if err != nil {
			fail("put", err)
		}
		base := filepath.Base(*filePut)
		kind := *putType
		if kind == "" {
			kind = strings.TrimPrefix(filepath.Ext(base), ".")
		}
		name := *putName
		if name == "" {
			name = strings.TrimSuffix(base, filepath.Ext(base))
		}
		if err := fs.WriteFile(*catPath, name, kind, data, *putAddr); err != nil {
			fail("put", err)
		}
		dirty = true

	case *fileDelete != "":
		if err := fs.Delete(*catPath, *fileDelete); err != nil {
			fail("delete", err)
		}
		dirty = true

	case *fileRename != "":
		old, newname, ok := splitPair(*fileRename)
		if !ok {
			fail("rename", fmt.Errorf("expected old:new"))
		}
		if err := fs.Rename(*catPath, old, newname); err != nil {
			fail("rename", err)
		}
		dirty = true

	case *fileRetype != "":
		name, kind, ok := splitPair(*fileRetype)
		if !ok {
			fail("retype", fmt.Errorf("expected name:type"))
		}
		if err := fs.Retype(*catPath, name, kind); err != nil {
			fail("retype", err)
		}
		dirty = true

	case *fileLock != "":
		lock := true
		if err := fs.SetAttributes(*catPath, *fileLock, disk.AttributeSet{Locked: &lock}); err != nil {
			fail("lock", err)
		}
		dirty = true

	case *fileUnlock != "":
		lock := false
		if err := fs.SetAttributes(*catPath, *fileUnlock, disk.AttributeSet{Locked: &lock}); err != nil {
			fail("unlock", err)
		}
		dirty = true

	case *fileMkdir != "":
		if err := fs.Mkdir(*catPath, *fileMkdir); err != nil {
			fail("mkdir", err)
		}
		dirty = true

	case *volStats:
		st, err := fs.Stats()
		if err != nil {
			fail("stats", err)
		}
		fmt.Printf("Volume:    %s\n", st.VolumeName)
		fmt.Printf("Family:    %s\n", st.Family)
		fmt.Printf("Files:     %d\n", st.Files)
		fmt.Printf("Units:     %d x %d bytes\n", st.TotalUnits, st.UnitSize)
		fmt.Printf("Free:      %d (%d bytes)\n", st.FreeUnits, st.FreeUnits*st.UnitSize)

	case *globPattern != "":
		matches, err := Glob(fs, *globPattern)
		if err != nil {
			fail("glob", err)
		}
		for _, m := range matches {
			fmt.Println(m)
		}

	case *batchGet != "":
		caps := BatchCaps{MaxDepth: *batchDepth, MaxEntries: *batchMax}
		for _, o := range BatchGet(fs, *batchGet, *batchDest, caps) {
			fmt.Println(o)
		}

	case *batchPut != "":
		caps := BatchCaps{MaxDepth: *batchDepth, MaxEntries: *batchMax}
		outcomes := BatchPut(fs, *batchPut, *catPath, caps)
		for _, o := range outcomes {
			fmt.Println(o)
		}
		for _, o := range outcomes {
			if o.Err == nil {
				dirty = true
			}
		}

	case *apiAddr != "":
		if err := serveAPI(*apiAddr, fs, dsk); err != nil {
			fail("api", err)
		}
	}

	if dirty {
		if err := dsk.SaveAs(dsk.Filename); err != nil {
			fail("save", err)
		}
		log.Logf("saved %s", dsk.Filename)
	}
}

func fail(op string, err error) {
	fmt.Fprintf(os.Stderr, "%s: %v\n", op, err)
	os.Exit(1)
}

func splitPair(s string) (string, string, bool) {
	i := strings.LastIndex(s, ":")
	if i <= 0 || i == len(s)-1 {
		return "", "", false
	}
	return s[:i], s[i+1:], true
}
