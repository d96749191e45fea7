package main

import (
	"fmt"
	"strings"

	"github.com/franz/mediaops/internal/identity"
	"github.com/franz/mediaops/internal/store"
	"github.com/franz/mediaops/internal/util"
	"github.com/spf13/cobra"
)

var tagCmd = &cobra.Command{
	Use:   "tag",
	Short: "Attach, detach and list namespaced path labels",
}

var tagAttachCmd = &cobra.Command{
	Use:   "attach <namespace:name>",
	Short: "Attach a tag to a path",
	Args:  cobra.ExactArgs(1),
	RunE:  runTagAttach,
}

var tagDetachCmd = &cobra.Command{
	Use:   "detach <namespace:name>",
	Short: "Detach a tag from a path",
	Args:  cobra.ExactArgs(1),
	RunE:  runTagDetach,
}

var tagListCmd = &cobra.Command{
	Use:   "list",
	Short: "List the tags attached to a path",
	RunE:  runTagList,
}

func init() {
	rootCmd.AddCommand(tagCmd)
	tagCmd.AddCommand(tagAttachCmd, tagDetachCmd, tagListCmd)

	for _, c := range []*cobra.Command{tagAttachCmd, tagDetachCmd, tagListCmd} {
		c.Flags().String("path-id", "", "path identity")
		c.Flags().String("path", "", "path string (identity is computed)")
	}
	tagAttachCmd.Flags().String("source", "manual", "provenance source")
	tagDetachCmd.Flags().String("source", "manual", "provenance source")
}

// resolvePathID turns --path-id / --path flags into a path identity
func resolvePathID(cmd *cobra.Command) (string, error) {
	pathID, _ := cmd.Flags().GetString("path-id")
	if pathID != "" {
		return pathID, nil
	}
	path, _ := cmd.Flags().GetString("path")
	if path == "" {
		return "", fmt.Errorf("either --path-id or --path is required")
	}
	return identity.Default().PathID(path), nil
}

// splitTagArg parses "namespace:name"
func splitTagArg(arg string) (namespace, name string, err error) {
	parts := strings.SplitN(arg, ":", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("tag must be given as namespace:name, got %q", arg)
	}
	return parts[0], parts[1], nil
}

func runTagAttach(cmd *cobra.Command, args []string) error {
	namespace, name, err := splitTagArg(args[0])
	if err != nil {
		return err
	}
	pathID, err := resolvePathID(cmd)
	if err != nil {
		return err
	}
	source, _ := cmd.Flags().GetString("source")

	db, err := openStore()
	if err != nil {
		return err
	}
	defer db.Close()

	return db.Transaction(func(q store.Querier) error {
		tagID, err := db.EnsureTag(q, namespace, name)
		if err != nil {
			return err
		}
		if err := db.AttachPathTag(q, pathID, tagID, source); err != nil {
			return err
		}
		util.SuccessLog("Attached %s:%s to %s (source=%s)", namespace, name, pathID, source)
		return nil
	})
}

func runTagDetach(cmd *cobra.Command, args []string) error {
	namespace, name, err := splitTagArg(args[0])
	if err != nil {
		return err
	}
	pathID, err := resolvePathID(cmd)
	if err != nil {
		return err
	}
	source, _ := cmd.Flags().GetString("source")

	db, err := openStore()
	if err != nil {
		return err
	}
	defer db.Close()

	tagID, found, err := db.FindTag(namespace, name)
	if err != nil {
		return err
	}
	if !found {
		util.WarnLog("Tag %s:%s does not exist", namespace, name)
		return nil
	}

	return db.Transaction(func(q store.Querier) error {
		if err := db.DetachPathTag(q, pathID, tagID, source); err != nil {
			return err
		}
		util.SuccessLog("Detached %s:%s from %s (source=%s)", namespace, name, pathID, source)
		return nil
	})
}

func runTagList(cmd *cobra.Command, args []string) error {
	pathID, err := resolvePathID(cmd)
	if err != nil {
		return err
	}

	db, err := openStore()
	if err != nil {
		return err
	}
	defer db.Close()

	tags, err := db.TagsForPath(pathID)
	if err != nil {
		return err
	}
	if len(tags) == 0 {
		util.InfoLog("No tags on %s", pathID)
		return nil
	}
	for _, t := range tags {
		fmt.Printf("%s:%s\t(source=%s)\n", t.Namespace, t.Name, t.Source)
	}
	return nil
}
