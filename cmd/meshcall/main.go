package main

import (
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	meshcall "github.com/kw-m/meshcall/pkg"
	"github.com/kw-m/meshcall/pkg/config"
	"github.com/kw-m/meshcall/pkg/media"
	"github.com/kw-m/meshcall/pkg/signaling"
	"github.com/kw-m/meshcall/pkg/util"

	log "github.com/sirupsen/logrus"
)

// command line flag placeholder variables
var configFilePath string = "./meshcall-config.json"
var roomCode string = ""
var displayName string = "anonymous"

func parseProgramCmdlineFlags() {
	flag.StringVar(&configFilePath, "config-file", "meshcall-config.json", "Path to the config file. Default is meshcall-config.json")
	flag.StringVar(&roomCode, "room", "", "Room code to join. A fresh code is generated (and printed) when empty.")
	flag.StringVar(&displayName, "name", "anonymous", "Display name shown to the other participants")
	flag.Parse()
}

func main() {
	println("------------ Starting Meshcall ----------------")

	// Parse the command line parameters passed to program in the shell eg "-a" in "ls -a"
	// read the config file and set it to the config global variable
	parseProgramCmdlineFlags()
	configOptions, err := config.ReadConfigFile(configFilePath)
	if err != nil {
		log.Warn("Failed to read config file, using defaults: ", err)
		configOptions = config.GetDefaultMeshcallConfig()
	}

	if roomCode == "" {
		roomCode = meshcall.GenerateRoomCode()
		log.Println("No room code given, share this one: ", roomCode)
	}

	provider, err := media.NewDeviceProvider()
	if err != nil {
		log.Fatal("Failed to set up capture devices: ", err)
	}

	client := meshcall.NewRoomClient(configOptions, meshcall.NewIdentity(displayName), provider)
	client.OnChatUpdated(func(messages []signaling.ChatMessage) {
		if len(messages) > 0 {
			last := messages[len(messages)-1]
			log.Println(last.SenderName, ": ", last.Body)
		}
	})
	client.OnPeerListChanged(func(peers []meshcall.PeerInfo) {
		log.Println(len(peers), " peer(s) in room ", roomCode)
	})

	if err := client.Join(roomCode); err != nil {
		log.Fatal("Failed to join room: ", err)
	}
	defer client.Leave()

	// drain the room event stream until shutdown. The stream channel closes when
	// the client leaves the room (including the forced leave on transport loss),
	// which ends this goroutine and fires the quit signal.
	programShouldQuitSignal := util.NewUnblockSignal()
	events := client.GetEventStream().Subscribe()
	go func() {
		for event := range events {
			switch event.Type {
			case meshcall.RoomEventPeerConnected:
				log.Println("Peer connected: ", event.DisplayName)
			case meshcall.RoomEventPeerDisconnected:
				log.Println("Peer disconnected: ", event.DisplayName)
			case meshcall.RoomEventTransportError:
				programShouldQuitSignal.TriggerWithError(event.Err)
			case meshcall.RoomEventNegotiationStalled:
				log.Warn("Negotiation stalled with ", event.PeerId)
			}
		}
		programShouldQuitSignal.Trigger()
	}()

	// Wait for a signal to stop the program
	systemExitCalled := make(chan os.Signal, 1)                                                     // Create a channel to listen for an interrupt signal from the OS.
	signal.Notify(systemExitCalled, os.Interrupt, syscall.SIGQUIT, syscall.SIGTERM, syscall.SIGHUP) // tell the OS to send us a signal on the systemExitCalled go channel when it wants us to exit
	defer time.Sleep(time.Second)                                                                   // sleep a Second at very end to allow everything to finish.
	select {
	case <-programShouldQuitSignal.GetSignal():
		if err := programShouldQuitSignal.GetError(); err != nil {
			log.Error("Signaling connection lost, exiting: ", err)
		} else {
			log.Println("room session ended, exiting.")
		}
	case <-systemExitCalled:
		log.Println("ctrl+c or other system interrupt received, exiting.")
	}
}
