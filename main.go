package main

import (
	"context"
	"log"
	"os"
	"strings"
	"time"

	"github.com/warppipe/swift-torrent/client"
)

func main() {
	if len(os.Args) < 2 {
		log.Fatalln("usage: swift-torrent <file.torrent | magnet-uri>")
	}
	source := os.Args[1]

	session, err := client.NewSession(client.DefaultSessionConfig())
	if err != nil {
		log.Fatalln(err)
	}
	defer session.Close()

	var t client.Torrent
	if strings.HasPrefix(strings.ToLower(source), "magnet:") {
		t, err = session.AddMagnet(source)
	} else {
		t, err = session.AddTorrentFile(source)
	}
	if err != nil {
		log.Fatalln(err)
	}

	info, err := t.WaitForMetadata(context.Background())
	if err != nil {
		log.Fatalln(err)
	}
	log.Printf("downloading %s (%d bytes)", info.Name, info.TotalSize)

	go func() {
		for {
			<-time.After(10 * time.Second)
			st := t.Status()
			log.Printf("%.1f%% done, %d peers", st.Progress*100, st.NumPeers)
		}
	}()

	if err := t.WaitForCompletion(context.Background()); err != nil {
		log.Fatalln(err)
	}
	log.Printf("%s complete", info.Name)
}
