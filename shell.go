package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/chzyer/readline"

	"github.com/dfgordon/a2kit/disk"
	"github.com/dfgordon/a2kit/loggy"
)

const MAXVOL = 8

type mountedVolume struct {
	dsk *disk.DSKWrapper
	fs  *disk.DiskFS
}

var commandList map[string]*shellCommand
var commandVolumes [MAXVOL]*mountedVolume
var commandTarget int = -1
var commandPath [MAXVOL]string

func mountVolume(filename string) (int, error) {

	var fr []int
	for i, v := range commandVolumes {
		if v == nil {
			fr = append(fr, i)
		} else if v.dsk.Filename == filename {
			return i, nil
		}
	}
	if len(fr) == 0 {
		return -1, fmt.Errorf("no free slots")
	}

	dsk, err := disk.NewDSKWrapper(filename)
	if err != nil {
		return -1, err
	}
	fs, err := disk.NewDiskFS(dsk)
	if err != nil {
		return -1, err
	}

	commandVolumes[fr[0]] = &mountedVolume{dsk: dsk, fs: fs}
	return fr[0], nil
}

func targetVolume() *mountedVolume {
	if commandTarget < 0 || commandTarget >= MAXVOL {
		return nil
	}
	return commandVolumes[commandTarget]
}

func smartSplit(line string) (string, []string) {

	var out []string

	var inqq bool
	var lastEscape bool
	var chunk string

	add := func() {
		if chunk != "" {
			out = append(out, chunk)
			chunk = ""
		}
	}

	for _, ch := range line {
		switch {
		case ch == '"':
			inqq = !inqq
			add()
		case ch == ' ':
			if inqq || lastEscape {
				chunk += string(ch)
			} else {
				add()
			}
			lastEscape = false
		case ch == '\\' && !inqq:
			lastEscape = true
		default:
			chunk += string(ch)
		}
	}

	add()

	if len(out) == 0 {
		return "", out
	}

	return out[0], out[1:]
}

func getPrompt(wp [MAXVOL]string, t int) string {

	if t == -1 || commandVolumes[t] == nil {
		return "dsk:<no mount>> "
	}

	v := commandVolumes[t]
	return fmt.Sprintf("dsk:%d:%s:%s> ", t, filepath.Base(v.dsk.Filename), wp[t])
}

type shellCommand struct {
	Name             string
	Description      string
	MinArgs, MaxArgs int
	Code             func(args []string) int
	NeedsMount       bool
	Text             []string
}

type shellCompleter struct {
}

func hasPrefix(str []rune, prefix []rune) bool {
	if len(prefix) > len(str) {
		return false
	}
	for i := 0; i < len(prefix); i++ {
		if str[i] != prefix[i] {
			return false
		}
	}
	return true
}

// Do completes command verbs at the start of the line and catalog names
// after them.
func (sc *shellCompleter) Do(line []rune, pos int) ([][]rune, int) {

	head := string(line[:pos])
	parts := strings.Split(head, " ")

	var out [][]rune
	partial := parts[len(parts)-1]

	if len(parts) == 1 {
		for name := range commandList {
			if strings.HasPrefix(name, strings.ToLower(partial)) {
				out = append(out, []rune(name[len(partial):]+" "))
			}
		}
		return out, len(partial)
	}

	v := targetVolume()
	if v == nil {
		return out, len(partial)
	}
	entries, err := v.fs.Catalog(commandPath[commandTarget], "")
	if err != nil {
		return out, len(partial)
	}
	for _, e := range entries {
		if strings.HasPrefix(strings.ToUpper(e.Name), strings.ToUpper(partial)) {
			out = append(out, []rune(e.Name[len(partial):]))
		}
	}

	return out, len(partial)
}

func init() {

	commandList = map[string]*shellCommand{
		"mount": {
			Name:        "mount",
			Description: "Mount a disk image",
			MinArgs:     1,
			MaxArgs:     1,
			Code:        shellMount,
			Text: []string{
				"mount <filename>",
				"",
				"Identify a disk image and mount it in the next free slot.",
			},
		},
		"unmount": {
			Name:        "unmount",
			Description: "Unmount a disk image",
			MinArgs:     0,
			MaxArgs:     1,
			Code:        shellUnmount,
			Text: []string{
				"unmount [<slot>]",
			},
		},
		"target": {
			Name:        "target",
			Description: "Select the active slot",
			MinArgs:     1,
			MaxArgs:     1,
			Code:        shellTarget,
			Text: []string{
				"target <slot>",
			},
		},
		"disks": {
			Name:        "disks",
			Description: "List mounted volumes",
			MinArgs:     0,
			MaxArgs:     0,
			Code:        shellDisks,
		},
		"info": {
			Name:        "info",
			Description: "Show image format and geometry",
			MinArgs:     0,
			MaxArgs:     0,
			Code:        shellInfo,
			NeedsMount:  true,
		},
		"stats": {
			Name:        "stats",
			Description: "Show volume usage",
			MinArgs:     0,
			MaxArgs:     0,
			Code:        shellStats,
			NeedsMount:  true,
		},
		"cat": {
			Name:        "cat",
			Description: "List files",
			MinArgs:     0,
			MaxArgs:     1,
			Code:        shellCat,
			NeedsMount:  true,
			Text: []string{
				"cat [<pattern>]",
			},
		},
		"cd": {
			Name:        "cd",
			Description: "Change catalog path",
			MinArgs:     0,
			MaxArgs:     1,
			Code:        shellCd,
			NeedsMount:  true,
		},
		"glob": {
			Name:        "glob",
			Description: "Match catalog paths",
			MinArgs:     1,
			MaxArgs:     1,
			Code:        shellGlob,
			NeedsMount:  true,
			Text: []string{
				"glob <pattern>",
				"",
				"Patterns match per path segment; bare names match anywhere.",
			},
		},
		"extract": {
			Name:        "extract",
			Description: "Copy a file out of the volume",
			MinArgs:     1,
			MaxArgs:     2,
			Code:        shellExtract,
			NeedsMount:  true,
			Text: []string{
				"extract <filename> [<local name>]",
				"",
				"Use -fimg as the local name to print a file image instead.",
			},
		},
		"put": {
			Name:        "put",
			Description: "Copy a local file onto the volume",
			MinArgs:     1,
			MaxArgs:     2,
			Code:        shellPut,
			NeedsMount:  true,
			Text: []string{
				"put <local file> [<name>]",
				"",
				"The type comes from the local extension (bas, bin, txt, ...).",
			},
		},
		"delete": {
			Name:        "delete",
			Description: "Delete a file",
			MinArgs:     1,
			MaxArgs:     1,
			Code:        shellDelete,
			NeedsMount:  true,
		},
		"rename": {
			Name:        "rename",
			Description: "Rename a file",
			MinArgs:     2,
			MaxArgs:     2,
			Code:        shellRename,
			NeedsMount:  true,
		},
		"retype": {
			Name:        "retype",
			Description: "Change a file's type",
			MinArgs:     2,
			MaxArgs:     2,
			Code:        shellRetype,
			NeedsMount:  true,
			Text: []string{
				"retype <filename> <type>",
			},
		},
		"lock": {
			Name:        "lock",
			Description: "Lock a file",
			MinArgs:     1,
			MaxArgs:     1,
			Code:        shellLock,
			NeedsMount:  true,
		},
		"unlock": {
			Name:        "unlock",
			Description: "Unlock a file",
			MinArgs:     1,
			MaxArgs:     1,
			Code:        shellUnlock,
			NeedsMount:  true,
		},
		"mkdir": {
			Name:        "mkdir",
			Description: "Create a subdirectory",
			MinArgs:     1,
			MaxArgs:     1,
			Code:        shellMkdir,
			NeedsMount:  true,
		},
		"dump": {
			Name:        "dump",
			Description: "Hex dump one sector",
			MinArgs:     2,
			MaxArgs:     2,
			Code:        shellDump,
			NeedsMount:  true,
			Text: []string{
				"dump <track> <sector>",
			},
		},
		"vtoc": {
			Name:        "vtoc",
			Description: "Hunt for a DOS catalog anchor",
			MinArgs:     0,
			MaxArgs:     0,
			Code:        shellVTOC,
			NeedsMount:  true,
		},
		"save": {
			Name:        "save",
			Description: "Write the mounted image back to disk",
			MinArgs:     0,
			MaxArgs:     1,
			Code:        shellSave,
			NeedsMount:  true,
			Text: []string{
				"save [<filename>]",
			},
		},
		"help": {
			Name:        "help",
			Description: "Show help",
			MinArgs:     0,
			MaxArgs:     1,
			Code:        shellHelp,
		},
		"quit": {
			Name:        "quit",
			Description: "Leave the shell",
			MinArgs:     0,
			MaxArgs:     0,
			Code:        shellQuit,
		},
	}
}

func shellProcess(line string) int {
	line = strings.TrimSpace(line)

	verb, args := smartSplit(line)
	if verb == "" {
		return 0
	}

	verb = strings.ToLower(verb)
	command, ok := commandList[verb]
	if !ok {
		os.Stderr.WriteString(fmt.Sprintf("Unrecognized command: %s\n", verb))
		return -1
	}

	if len(args) < command.MinArgs {
		os.Stderr.WriteString(fmt.Sprintf("%s expects at least %d arguments\n", verb, command.MinArgs))
		return -1
	}
	if len(args) > command.MaxArgs {
		os.Stderr.WriteString(fmt.Sprintf("%s expects at most %d arguments\n", verb, command.MaxArgs))
		return -1
	}
	if command.NeedsMount && targetVolume() == nil {
		os.Stderr.WriteString(fmt.Sprintf("%s only works on mounted disks\n", verb))
		return -1
	}

	return command.Code(args)
}

func shellDo(startImage string) {

	if startImage != "" {
		if slot, err := mountVolume(startImage); err == nil {
			commandTarget = slot
		} else {
			os.Stderr.WriteString(fmt.Sprintf("mount %s: %v\n", startImage, err))
		}
	}

	rl, err := readline.NewEx(&readline.Config{
		Prompt:                 getPrompt(commandPath, commandTarget),
		HistoryFile:            binpath() + "/.shell_history",
		DisableAutoSaveHistory: false,
		AutoComplete:           &shellCompleter{},
	})
	if err != nil {
		os.Exit(2)
	}
	defer rl.Close()

	for {
		line, err := rl.Readline()
		if err != nil {
			break
		}
		if shellProcess(line) == 999 {
			return
		}
		rl.SetPrompt(getPrompt(commandPath, commandTarget))
	}
}

func shellMount(args []string) int {

	slot, err := mountVolume(args[0])
	if err != nil {
		os.Stderr.WriteString(fmt.Sprintf("mount: %v\n", err))
		return -1
	}

	commandTarget = slot
	commandPath[slot] = ""
	v := commandVolumes[slot]
	fmt.Printf("Mounted %s in slot %d (%s, %s)\n", args[0], slot, v.fs.Family(), v.dsk.Format)
	return 0
}

func shellUnmount(args []string) int {

	slot := commandTarget
	if len(args) == 1 {
		s, err := strconv.Atoi(args[0])
		if err != nil || s < 0 || s >= MAXVOL {
			os.Stderr.WriteString("bad slot\n")
			return -1
		}
		slot = s
	}
	if slot < 0 || commandVolumes[slot] == nil {
		os.Stderr.WriteString("nothing mounted there\n")
		return -1
	}

	commandVolumes[slot] = nil
	commandPath[slot] = ""
	if commandTarget == slot {
		commandTarget = -1
	}
	return 0
}

func shellTarget(args []string) int {

	s, err := strconv.Atoi(args[0])
	if err != nil || s < 0 || s >= MAXVOL || commandVolumes[s] == nil {
		os.Stderr.WriteString("bad slot\n")
		return -1
	}
	commandTarget = s
	return 0
}

func shellDisks(args []string) int {

	for i, v := range commandVolumes {
		if v == nil {
			continue
		}
		marker := " "
		if i == commandTarget {
			marker = "*"
		}
		fmt.Printf("%s %d: %-40s %s\n", marker, i, filepath.Base(v.dsk.Filename), v.fs.Family())
	}
	return 0
}

func shellInfo(args []string) int {

	v := targetVolume()
	g := v.dsk.Geometry()

	fmt.Printf("File:      %s\n", v.dsk.Filename)
	fmt.Printf("Format:    %s\n", v.dsk.Format)
	fmt.Printf("Order:     %s\n", v.dsk.Layout)
	fmt.Printf("Family:    %s\n", v.fs.Family())
	fmt.Printf("Tracks:    %d\n", len(g.Tracks))
	fmt.Printf("Checksum:  %s\n", v.dsk.ChecksumDisk())
	if v.dsk.IsChanged() {
		fmt.Println("Unsaved changes")
	}
	return 0
}

func shellDump(args []string) int {

	t, err1 := strconv.Atoi(args[0])
	s, err2 := strconv.Atoi(args[1])
	if err1 != nil || err2 != nil {
		os.Stderr.WriteString("dump: track and sector must be numbers\n")
		return -1
	}

	v := targetVolume()
	if err := v.dsk.Seek(t, s); err != nil {
		os.Stderr.WriteString(fmt.Sprintf("dump: %v\n", err))
		return -1
	}
	disk.Dump(v.dsk.Read())
	fmt.Printf("Checksum:  %s\n", v.dsk.ChecksumSector(t, s))
	return 0
}

func shellVTOC(args []string) int {

	v := targetVolume()
	t, s := v.dsk.HuntVTOC(35, 16)
	if t < 0 {
		t, s = v.dsk.HuntVTOC(35, 13)
	}
	if t < 0 {
		os.Stderr.WriteString("vtoc: no catalog anchor found\n")
		return -1
	}
	fmt.Printf("VTOC at track %d sector %d\n", t, s)
	return 0
}

func shellStats(args []string) int {

	v := targetVolume()
	st, err := v.fs.Stats()
	if err != nil {
		os.Stderr.WriteString(fmt.Sprintf("stats: %v\n", err))
		return -1
	}

	fmt.Printf("Volume:    %s\n", st.VolumeName)
	fmt.Printf("Family:    %s\n", st.Family)
	fmt.Printf("Files:     %d\n", st.Files)
	fmt.Printf("Units:     %d x %d bytes\n", st.TotalUnits, st.UnitSize)
	fmt.Printf("Free:      %d (%d bytes)\n", st.FreeUnits, st.FreeUnits*st.UnitSize)
	if st.LargestFree > 0 {
		fmt.Printf("Largest:   %d contiguous\n", st.LargestFree)
	}
	return 0
}

func shellCat(args []string) int {

	pattern := ""
	if len(args) == 1 {
		pattern = args[0]
	}

	v := targetVolume()
	entries, err := v.fs.Catalog(commandPath[commandTarget], pattern)
	if err != nil {
		os.Stderr.WriteString(fmt.Sprintf("cat: %v\n", err))
		return -1
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
	fmt.Printf("%d files\n", len(entries))
	return 0
}

func shellCd(args []string) int {

	if len(args) == 0 {
		commandPath[commandTarget] = ""
		return 0
	}

	v := targetVolume()
	newPath := args[0]
	if newPath == ".." {
		p := commandPath[commandTarget]
		if i := strings.LastIndex(p, "/"); i >= 0 {
			newPath = p[:i]
		} else {
			newPath = ""
		}
	} else if !strings.HasPrefix(newPath, "/") && commandPath[commandTarget] != "" {
		newPath = commandPath[commandTarget] + "/" + newPath
	}
	newPath = strings.Trim(newPath, "/")

	if newPath != "" {
		if _, err := v.fs.Catalog(newPath, ""); err != nil {
			os.Stderr.WriteString(fmt.Sprintf("cd: %v\n", err))
			return -1
		}
	}
	commandPath[commandTarget] = newPath
	return 0
}

func shellGlob(args []string) int {

	v := targetVolume()
	matches, err := Glob(v.fs, args[0])
	if err != nil {
		os.Stderr.WriteString(fmt.Sprintf("glob: %v\n", err))
		return -1
	}
	for _, m := range matches {
		fmt.Println(m)
	}
	fmt.Printf("%d matches\n", len(matches))
	return 0
}

func shellExtract(args []string) int {

	v := targetVolume()
	entry, data, err := v.fs.ReadFile(commandPath[commandTarget], args[0])
	if err != nil {
		os.Stderr.WriteString(fmt.Sprintf("extract: %v\n", err))
		return -1
	}

	local := entry.Name
	if len(args) == 2 {
		local = args[1]
	}

	if local == "-fimg" {
		fimg := disk.PackEntry(v.fs.Family(), commandPath[commandTarget], entry, data)
		j, err := json.MarshalIndent(fimg, "", "  ")
		if err != nil {
			os.Stderr.WriteString(fmt.Sprintf("extract: %v\n", err))
			return -1
		}
		fmt.Println(string(j))
		return 0
	}

	if err := os.WriteFile(local, data, 0644); err != nil {
		os.Stderr.WriteString(fmt.Sprintf("extract: %v\n", err))
		return -1
	}
	fmt.Printf("Wrote %d bytes to %s\n", len(data), local)
	return 0
}

func shellPut(args []string) int {

	data, err := os.ReadFile(args[0])
	if err != nil {
		os.Stderr.WriteString(fmt.Sprintf("put: %v\n", err))
		return -1
	}

	base := filepath.Base(args[0])
	kind := strings.TrimPrefix(filepath.Ext(base), ".")
	name := strings.TrimSuffix(base, filepath.Ext(base))
	if len(args) == 2 {
		name = args[1]
	}

	v := targetVolume()
	if err := v.fs.WriteFile(commandPath[commandTarget], name, kind, data, -1); err != nil {
		os.Stderr.WriteString(fmt.Sprintf("put: %v\n", err))
		return -1
	}
	fmt.Printf("Stored %s (%d bytes)\n", name, len(data))
	return 0
}

func shellDelete(args []string) int {

	v := targetVolume()
	if err := v.fs.Delete(commandPath[commandTarget], args[0]); err != nil {
		os.Stderr.WriteString(fmt.Sprintf("delete: %v\n", err))
		return -1
	}
	return 0
}

func shellRename(args []string) int {

	v := targetVolume()
	if err := v.fs.Rename(commandPath[commandTarget], args[0], args[1]); err != nil {
		os.Stderr.WriteString(fmt.Sprintf("rename: %v\n", err))
		return -1
	}
	return 0
}

func shellRetype(args []string) int {

	v := targetVolume()
	if err := v.fs.Retype(commandPath[commandTarget], args[0], args[1]); err != nil {
		os.Stderr.WriteString(fmt.Sprintf("retype: %v\n", err))
		return -1
	}
	return 0
}

func setLock(name string, lock bool) int {

	v := targetVolume()
	attr := disk.AttributeSet{Locked: &lock}
	if err := v.fs.SetAttributes(commandPath[commandTarget], name, attr); err != nil {
		os.Stderr.WriteString(fmt.Sprintf("lock: %v\n", err))
		return -1
	}
	return 0
}

func shellLock(args []string) int {
	return setLock(args[0], true)
}

func shellUnlock(args []string) int {
	return setLock(args[0], false)
}

func shellMkdir(args []string) int {

	v := targetVolume()
	if err := v.fs.Mkdir(commandPath[commandTarget], args[0]); err != nil {
		os.Stderr.WriteString(fmt.Sprintf("mkdir: %v\n", err))
		return -1
	}
	return 0
}

func shellSave(args []string) int {

	v := targetVolume()
	filename := v.dsk.Filename
	if len(args) == 1 {
		filename = args[0]
	} else if !v.dsk.IsChanged() {
		fmt.Println("No changes to save")
		return 0
	}

	if err := v.dsk.SaveAs(filename); err != nil {
		os.Stderr.WriteString(fmt.Sprintf("save: %v\n", err))
		return -1
	}
	loggy.Get(0).Logf("saved %s", filename)
	fmt.Printf("Saved %s\n", filename)
	return 0
}

func shellHelp(args []string) int {

	if len(args) == 1 {
		if details, ok := commandList[strings.ToLower(args[0])]; ok {
			for _, line := range details.Text {
				fmt.Println(line)
			}
			if len(details.Text) == 0 {
				fmt.Println(details.Description)
			}
			return 0
		}
		os.Stderr.WriteString("no such command\n")
		return -1
	}

	var names []string
	for k := range commandList {
		names = append(names, k)
	}
	sort.Strings(names)
	for _, k := range names {
		fmt.Printf("%-10s %s\n", k, commandList[k].Description)
	}
	return 0
}

func shellQuit(args []string) int {
	return 999
}
